// Command dongle-sim simulates a ShineWiFi dongle against a running
// go-shine server: it announces itself, then streams data frames and
// pings on an interval, printing every reply it gets back.
package main

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/resident-x/go-shine/internal/protocol"
)

type simulator struct {
	serverAddr     string
	wifiSerial     string
	inverterSerial string
	interval       time.Duration
	verbose        bool

	conn    net.Conn
	counter uint16
}

func newSimulator(serverAddr, wifiSerial, inverterSerial string, interval time.Duration, verbose bool) *simulator {
	return &simulator{
		serverAddr:     serverAddr,
		wifiSerial:     wifiSerial,
		inverterSerial: inverterSerial,
		interval:       interval,
		verbose:        verbose,
	}
}

func (sim *simulator) connect(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", sim.serverAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", sim.serverAddr, err)
	}
	sim.conn = conn
	log.Printf("Connected to %s", sim.serverAddr)
	return nil
}

func (sim *simulator) disconnect() {
	if sim.conn != nil {
		_ = sim.conn.Close()
		sim.conn = nil
	}
}

// send writes one frame and reads whatever reply comes back within the
// read window. Some replies are expected to be absent.
func (sim *simulator) send(name string, frame []byte) error {
	if sim.conn == nil {
		return fmt.Errorf("not connected")
	}

	if err := sim.conn.SetWriteDeadline(time.Now().Add(3 * time.Second)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := sim.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", name, err)
	}
	if sim.verbose {
		log.Printf("Sent %s (%d bytes)", name, len(frame))
	}

	if err := sim.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return fmt.Errorf("failed to set read deadline: %w", err)
	}

	buf := make([]byte, 1024)
	n, err := sim.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return fmt.Errorf("failed to read reply: %w", err)
	}
	if sim.verbose {
		log.Printf("Received reply (%d bytes): %s", n, hex.EncodeToString(buf[:n]))
	}

	return nil
}

func (sim *simulator) nextCounter() uint16 {
	sim.counter++
	return sim.counter
}

// announcePayload builds the full identity record the dongle sends on
// connect: both serials plus the make/model block.
func (sim *simulator) announcePayload() []byte {
	payload := make([]byte, 178)
	copy(payload[0:], sim.wifiSerial)
	copy(payload[10:], sim.inverterSerial)
	copy(payload[78:], sim.wifiSerial)
	copy(payload[88:], "Growatt")
	copy(payload[170:], "MIC600TL")
	return payload
}

// dataPayload builds a data record with plausible, slightly varying
// production values.
func (sim *simulator) dataPayload() []byte {
	payload := make([]byte, 200)
	copy(payload[0:], sim.wifiSerial)
	copy(payload[10:], sim.inverterSerial)

	binary.BigEndian.PutUint16(payload[71:], 1) // status: normal

	ppv := uint32(4000 + rand.Intn(1500)) // 400.0 .. 550.0 W
	vpv1 := uint16(2300 + rand.Intn(100)) // ~230 V
	ipv1 := uint16(10 + rand.Intn(15))    // ~1-2 A

	off := 73
	binary.BigEndian.PutUint32(payload[off:], ppv) // ppv
	off += 4
	binary.BigEndian.PutUint16(payload[off:], vpv1) // vpv1
	off += 2
	binary.BigEndian.PutUint16(payload[off:], ipv1) // ipv1
	off += 2
	binary.BigEndian.PutUint32(payload[off:], ppv/2) // ppv1

	return payload
}

func (sim *simulator) pingPayload() []byte {
	payload := make([]byte, 10)
	copy(payload, sim.wifiSerial)
	return payload
}

func (sim *simulator) run(ctx context.Context) error {
	if err := sim.connect(ctx); err != nil {
		return err
	}
	defer sim.disconnect()

	announce := protocol.Encode(sim.nextCounter(), 5, protocol.MsgAnnounceV1, sim.announcePayload())
	if err := sim.send("announce", announce); err != nil {
		return err
	}

	ticker := time.NewTicker(sim.interval)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-ctx.Done():
			log.Printf("Simulator stopped after %d data frames", sent)
			return ctx.Err()
		case <-ticker.C:
			if sim.conn == nil {
				if err := sim.connect(ctx); err != nil {
					log.Printf("Reconnect failed: %v", err)
					continue
				}
			}

			var name string
			var frame []byte
			if sent > 0 && sent%5 == 0 {
				name = "ping"
				frame = protocol.Encode(sim.nextCounter(), 5, protocol.MsgPing, sim.pingPayload())
			} else {
				name = "data"
				frame = protocol.Encode(sim.nextCounter(), 5, protocol.MsgDataV1, sim.dataPayload())
			}

			if err := sim.send(name, frame); err != nil {
				log.Printf("Send failed: %v", err)
				sim.disconnect()
				continue
			}
			sent++
		}
	}
}

func main() {
	serverAddr := flag.String("server", "localhost:5279", "go-shine server address (host:port)")
	wifiSerial := flag.String("serial", "AH12345678", "Wifi module serial (10 chars)")
	inverterSerial := flag.String("inverter", "NTC5512345", "Inverter serial (10 chars)")
	interval := flag.Duration("interval", 10*time.Second, "Interval between frames")
	verbose := flag.Bool("verbose", false, "Log every frame and reply")
	flag.Parse()

	if _, _, err := net.SplitHostPort(*serverAddr); err != nil {
		log.Fatalf("Invalid server address '%s': %v", *serverAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down", sig)
		cancel()
	}()

	sim := newSimulator(*serverAddr, *wifiSerial, *inverterSerial, *interval, *verbose)
	if err := sim.run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Simulator error: %v", err)
	}
}

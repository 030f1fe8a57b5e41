// Command soundpost-send publishes an Opus file as an alert to a speaker:
// it builds the wire envelope, announces its total length, and streams the
// bytes in chunks.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/soundpost/envelope"
	"github.com/c360/soundpost/pkg/retry"
	"github.com/c360/soundpost/transport/natstream"
)

func main() {
	url := flag.String("url", nats.DefaultURL, "broker URL")
	device := flag.String("device", "", "target device name")
	file := flag.String("file", "", "Opus file to send")
	priority := flag.Int("priority", envelope.DefaultPriority, "alert priority (0-255)")
	volume := flag.Int("volume", envelope.DefaultVolume, "playback volume (0-100)")
	count := flag.Int("count", envelope.DefaultPlayCount, "play count (0 = until interrupted)")
	interrupt := flag.Bool("interrupt", false, "interrupt current playback")
	save := flag.Bool("save", false, "ask the device to retain the payload")
	name := flag.String("name", "", "filename for a retained payload")
	chunkSize := flag.Int("chunk", 512, "chunk size in bytes")
	flag.Parse()

	if err := run(*url, *device, *file, *chunkSize, envelope.Metadata{
		Priority:         *priority,
		Volume:           *volume,
		PlayCount:        *count,
		InterruptCurrent: *interrupt,
		SaveToFile:       *save,
		Filename:         *name,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(url, device, file string, chunkSize int, meta envelope.Metadata) error {
	if device == "" {
		return fmt.Errorf("device name is required")
	}
	if file == "" {
		return fmt.Errorf("opus file is required")
	}
	if chunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}

	payload, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	wire, err := envelope.Encode(meta, payload)
	if err != nil {
		return err
	}

	// A broker mid-restart should not fail a one-shot send
	var nc *nats.Conn
	err = retry.Do(context.Background(), retry.DefaultConfig(), func() error {
		var cerr error
		nc, cerr = nats.Connect(url,
			nats.Name("soundpost-send"),
			nats.Timeout(10*time.Second))
		return cerr
	})
	if err != nil {
		return err
	}
	defer nc.Close()

	subject := fmt.Sprintf("soundpost.alert.%s", device)
	if err := nc.Publish(subject, natstream.Announcement(len(wire))); err != nil {
		return err
	}

	chunks := 0
	for offset := 0; offset < len(wire); offset += chunkSize {
		end := offset + chunkSize
		if end > len(wire) {
			end = len(wire)
		}
		if err := nc.Publish(subject, wire[offset:end]); err != nil {
			return err
		}
		chunks++
	}
	if err := nc.Flush(); err != nil {
		return err
	}

	fmt.Printf("sent %d bytes to %s in %d chunks (priority %d, volume %d)\n",
		len(wire), subject, chunks, meta.Priority, meta.Volume)
	return nil
}

// Smoke tool for the Docker worker driver. Launches one worker
// container against a throwaway work directory, waits for its dev
// server, tails its logs, and tears it down. Needs a local Docker
// daemon; everything it creates is removed on exit.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/hutch/pkg/runtime"
	"github.com/cuemby/hutch/pkg/types"
)

const (
	testImage   = "node:20-alpine"
	testNetwork = "hutch-poc"
	testPort    = 4290
)

func main() {
	log.Println("=== Hutch Preview Worker POC ===")
	log.Printf("Image: %s", testImage)
	log.Printf("Host port: %d", testPort)
	log.Println()

	log.Println("1. Connecting to Docker...")
	driver, err := runtime.NewDockerDriver()
	if err != nil {
		log.Fatalf("Failed to connect to Docker: %v\n"+
			"Please ensure the Docker daemon is running.", err)
	}
	defer driver.Close()
	log.Println("✓ Connected to Docker")

	ctx := context.Background()

	log.Printf("\n2. Ensuring network %s and image %s...", testNetwork, testImage)
	if err := driver.EnsureNetwork(ctx, testNetwork); err != nil {
		log.Fatalf("Failed to ensure network: %v", err)
	}
	start := time.Now()
	if err := driver.EnsureImage(ctx, testImage); err != nil {
		log.Fatalf("Failed to ensure image: %v", err)
	}
	log.Printf("✓ Network and image ready in %v", time.Since(start))

	log.Println("\n3. Materializing work directory...")
	workDir, err := os.MkdirTemp("", "hutch-poc-")
	if err != nil {
		log.Fatalf("Failed to create work directory: %v", err)
	}
	defer os.RemoveAll(workDir)

	index := "<!doctype html><title>hutch poc</title><h1>it works</h1>"
	if err := os.WriteFile(filepath.Join(workDir, "index.html"), []byte(index), 0o644); err != nil {
		log.Fatalf("Failed to write index.html: %v", err)
	}
	log.Printf("✓ Work directory at %s", workDir)

	log.Println("\n4. Starting worker container...")
	spec := types.WorkerSpec{
		SessionID: "poc",
		Image:     testImage,
		HostPort:  testPort,
		WorkDir:   workDir,
		Network:   testNetwork,
		Resources: types.WorkerResources{
			MemoryMB:   256,
			CPUPercent: 25,
			PidsLimit:  64,
		},
	}
	containerID, err := driver.CreateAndStart(ctx, spec)
	if err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}
	defer func() {
		log.Println("\n8. Cleaning up: stopping worker...")
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := driver.Stop(stopCtx, containerID); err != nil {
			log.Printf("Failed to stop worker: %v", err)
		} else {
			log.Println("✓ Worker stopped")
		}
	}()
	log.Printf("✓ Worker started: %s", containerID[:12])

	log.Println("\n5. Waiting for dev server...")
	url := fmt.Sprintf("http://localhost:%d/", testPort)
	if err := waitForHTTP(url, 60*time.Second); err != nil {
		log.Fatalf("Dev server never became ready: %v", err)
	}
	log.Printf("✓ Dev server answering at %s", url)

	log.Println("\n6. Checking liveness...")
	alive, err := driver.Alive(ctx, containerID)
	if err != nil || !alive {
		log.Fatalf("Worker not alive: alive=%v err=%v", alive, err)
	}
	log.Println("✓ Worker alive")

	log.Println("\n7. Tailing logs...")
	lines, err := driver.Logs(ctx, containerID, 10, time.Time{})
	if err != nil {
		log.Fatalf("Failed to read logs: %v", err)
	}
	for _, line := range lines {
		log.Printf("  | %s", line)
	}
	log.Printf("✓ Read %d log lines", len(lines))

	log.Println("\n=== POC complete ===")
}

// waitForHTTP polls url until any HTTP response arrives or the timeout
// expires. Worker startup covers npm install, so the window is long.
func waitForHTTP(url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			return nil
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("no response within %s", timeout)
}

// Package config loads the one-value-per-line ASCII configuration files for
// the coordinator, worker and client (spec.md §6). Config file parsing is
// explicitly named in spec.md §1 as an external, out-of-scope collaborator;
// this package is deliberately the minimal stdlib reader that satisfies it,
// not a general-purpose config library.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
)

// Coordinator holds the coordinator's two listen endpoints.
type Coordinator struct {
	ClientIP    string
	ClientPort  int
	WorkerIP    string
	WorkerPort  int
}

// Worker holds a worker's coordinator address, its own serving address, its
// storage directory and its declared media kind.
type Worker struct {
	CoordIP   string
	CoordPort int
	ServeIP   string
	ServePort int
	WorkerDir string
	Kind      string
}

// Client holds a client's identity and the coordinator address it talks to.
type Client struct {
	User     string
	UserDir  string
	CoordIP  string
	CoordPort int
}

// ReadCoordinator parses a coordinator config file: client_ip, client_port,
// worker_ip, worker_port, one value per line, in that order.
func ReadCoordinator(path string) (*Coordinator, error) {
	lines, err := readLines(path, 4)
	if err != nil {
		return nil, err
	}
	clientPort, err := strconv.Atoi(lines[1])
	if err != nil {
		return nil, fmt.Errorf("config: invalid client_port: %w", err)
	}
	workerPort, err := strconv.Atoi(lines[3])
	if err != nil {
		return nil, fmt.Errorf("config: invalid worker_port: %w", err)
	}
	return &Coordinator{
		ClientIP:   lines[0],
		ClientPort: clientPort,
		WorkerIP:   lines[2],
		WorkerPort: workerPort,
	}, nil
}

// ReadWorker parses a worker config file: coord_ip, coord_port, serve_ip,
// serve_port, worker_dir, kind, one value per line, in that order.
func ReadWorker(path string) (*Worker, error) {
	lines, err := readLines(path, 6)
	if err != nil {
		return nil, err
	}
	coordPort, err := strconv.Atoi(lines[1])
	if err != nil {
		return nil, fmt.Errorf("config: invalid coord_port: %w", err)
	}
	servePort, err := strconv.Atoi(lines[3])
	if err != nil {
		return nil, fmt.Errorf("config: invalid serve_port: %w", err)
	}
	return &Worker{
		CoordIP:   lines[0],
		CoordPort: coordPort,
		ServeIP:   lines[2],
		ServePort: servePort,
		WorkerDir: lines[4],
		Kind:      lines[5],
	}, nil
}

// ReadClient parses a client config file: user, user_dir, coord_ip,
// coord_port, one value per line, in that order.
func ReadClient(path string) (*Client, error) {
	lines, err := readLines(path, 4)
	if err != nil {
		return nil, err
	}
	coordPort, err := strconv.Atoi(lines[3])
	if err != nil {
		return nil, fmt.Errorf("config: invalid coord_port: %w", err)
	}
	return &Client{
		User:      lines[0],
		UserDir:   lines[1],
		CoordIP:   lines[2],
		CoordPort: coordPort,
	}, nil
}

// readLines reads the first want lines from path, empty lines included; a
// file with fewer than want lines is an error.
func readLines(path string, want int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(lines) < want {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if len(lines) != want {
		return nil, fmt.Errorf("config: %s: expected %d lines, got %d", path, want, len(lines))
	}
	return lines, nil
}

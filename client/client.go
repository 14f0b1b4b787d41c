// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package client implements the interactive distortion orchestrator of
// spec.md §4.6: classify a file, ask the coordinator for a worker, stream
// the file up, wait for the distorted mirror, and transparently fail over
// to a newly elected worker if the link dies mid-transfer.
package client

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/mediadistort/cluster/clog"
	"github.com/mediadistort/cluster/components"
	"github.com/mediadistort/cluster/distortion"
	"github.com/mediadistort/cluster/frame"
)

// FailoverGrace is how long the orchestrator waits after declaring a
// worker dead before re-querying the coordinator, giving it time to detect
// the same failure and re-elect (spec.md §4.6 step 5).
const FailoverGrace = components.HeartbeatInterval

// ErrJobInProgress is returned by Distort when a job of the same media
// Kind is already running for this client (spec.md §3: "at most one Job
// per media class per client").
var ErrJobInProgress = errors.New("client: a job of this media kind is already running")

// ErrNoWorker is returned when the coordinator reports no principal
// worker for the requested media kind.
var ErrNoWorker = errors.New("client: no worker available for this media kind")

// ErrChecksumMismatch is returned when a received file's MD5 does not
// match the sender's declared checksum.
var ErrChecksumMismatch = errors.New("client: checksum mismatch")

// Progress reports a running job's completion percentage (0-100): 0-50 for
// the upload half, 50-100 for the download half (spec.md §4.6 closing
// paragraph).
type Progress func(percent int)

// Orchestrator drives distortion jobs for one interactive user against one
// coordinator.
type Orchestrator struct {
	*clog.CLogger
	user    string
	userDir string
	coordEP components.Endpoint

	mu     sync.Mutex
	active map[components.Kind]bool
}

// New creates an Orchestrator for user, reading/writing files under
// userDir, talking to the coordinator at coordEP.
func New(user, userDir string, coordEP components.Endpoint) *Orchestrator {
	return &Orchestrator{
		CLogger: clog.New("client %s ", user),
		user:    user,
		userDir: userDir,
		coordEP: coordEP,
		active:  make(map[components.Kind]bool),
	}
}

// Distort runs one end-to-end distortion job for filename (relative to
// userDir) at the given factor, reporting progress through report if
// non-nil.
func (o *Orchestrator) Distort(filename string, factor int, report Progress) error {
	dkind, err := distortion.Classify(filename)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	kind := toComponentsKind(dkind)

	if err := o.claim(kind); err != nil {
		return err
	}
	defer o.release(kind)

	localPath := filepath.Join(o.userDir, filename)
	size, sum, err := fileSizeAndMD5(localPath)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}

	payload, err := frame.JoinFields(o.user, filename, strconv.FormatInt(size, 10), sum, strconv.Itoa(factor))
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}

	ep, err := o.requestWorker(kind, filename)
	if err != nil {
		return err
	}
	link, err := dialLink(ep)
	if err != nil {
		return err
	}
	link, err = o.handshake(link, frame.TypeStartDistort, payload)
	if err != nil {
		return err
	}

	link, err = o.upload(link, kind, filename, payload, localPath, size, report)
	if err != nil {
		return err
	}

	if err := o.confirmUpload(link); err != nil {
		return err
	}

	outPath := localPath + "_distorted"
	if _, err := o.download(link, kind, filename, payload, outPath, report); err != nil {
		return err
	}

	link.Close()
	return nil
}

func (o *Orchestrator) claim(kind components.Kind) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[kind] {
		return ErrJobInProgress
	}
	o.active[kind] = true
	return nil
}

func (o *Orchestrator) release(kind components.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, kind)
}

func dialLink(ep components.Endpoint) (*components.Link, error) {
	conn, err := net.Dial("tcp", ep.String())
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", ep, err)
	}
	return components.NewLink(conn), nil
}

// requestWorker implements spec.md §4.6 step 2.
func (o *Orchestrator) requestWorker(kind components.Kind, filename string) (components.Endpoint, error) {
	conn, err := net.Dial("tcp", o.coordEP.String())
	if err != nil {
		return components.Endpoint{}, fmt.Errorf("client: dial coordinator: %w", err)
	}
	link := components.NewLink(conn)
	defer link.Close()

	payload, err := frame.JoinFields(kind.String(), filename)
	if err != nil {
		return components.Endpoint{}, fmt.Errorf("client: %w", err)
	}
	if err := link.Send(frame.TypeDistortReq, []byte(payload)); err != nil {
		return components.Endpoint{}, fmt.Errorf("client: send DISTORT_REQ: %w", err)
	}
	f, err := link.Read()
	if err != nil {
		return components.Endpoint{}, fmt.Errorf("client: read DISTORT_REQ reply: %w", err)
	}

	reply := string(f.Payload)
	if reply == "DISTORT_KO" || reply == "MEDIA_KO" {
		return components.Endpoint{}, ErrNoWorker
	}
	fields, err := frame.SplitFields(f.Payload, 2)
	if err != nil {
		return components.Endpoint{}, fmt.Errorf("client: malformed DISTORT_REQ reply")
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return components.Endpoint{}, fmt.Errorf("client: malformed worker port")
	}
	return components.Endpoint{Host: fields[0], Port: port}, nil
}

// handshake sends the opening START/RESUME frame and awaits OK.
func (o *Orchestrator) handshake(link *components.Link, t frame.Type, payload string) (*components.Link, error) {
	if err := link.Send(t, []byte(payload)); err != nil {
		return link, fmt.Errorf("client: send %s: %w", t, err)
	}
	f, err := link.Read()
	if err != nil {
		return link, fmt.Errorf("client: read %s reply: %w", t, err)
	}
	if string(f.Payload) != "OK" {
		return link, fmt.Errorf("client: worker rejected transfer request: %s", f.Payload)
	}
	return link, nil
}

// upload streams localPath in frame.MaxPayload chunks, failing over to a
// newly elected worker (spec.md §4.6 step 5) whenever the link dies. It
// returns the (possibly replaced) link the caller must continue with.
func (o *Orchestrator) upload(link *components.Link, kind components.Kind, filename, payload, localPath string, size int64, report Progress) (*components.Link, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return link, fmt.Errorf("client: %w", err)
	}
	defer f.Close()

	var acked int64
	buf := make([]byte, frame.MaxPayload)

	for acked < size {
		if _, err := f.Seek(acked, io.SeekStart); err != nil {
			return link, fmt.Errorf("client: %w", err)
		}
		n, err := f.Read(buf)
		if n == 0 && err != nil {
			return link, fmt.Errorf("client: %w", err)
		}

		if sendErr := link.Send(frame.TypeFileData, buf[:n]); sendErr == nil {
			reply, readErr := link.Read()
			if readErr == nil && string(reply.Payload) == "OK" {
				acked += int64(n)
				if report != nil {
					report(int(acked * 50 / size))
				}
				continue
			}
		}

		o.Printf("Upload link lost at byte %d/%d, failing over", acked, size)
		newLink, err := o.failover(kind, filename, payload)
		if err != nil {
			return link, err
		}
		link = newLink
	}
	return link, nil
}

// failover implements spec.md §4.6 step 5: sleep, re-query the coordinator,
// dial the new worker, and resend the original payload as RESUME_DISTORT.
func (o *Orchestrator) failover(kind components.Kind, filename, payload string) (*components.Link, error) {
	time.Sleep(FailoverGrace)

	ep, err := o.requestWorker(kind, filename)
	if err != nil {
		return nil, err
	}
	link, err := dialLink(ep)
	if err != nil {
		return nil, err
	}
	return o.handshake(link, frame.TypeResumeDistort, payload)
}

// confirmUpload implements spec.md §4.6 step 6.
func (o *Orchestrator) confirmUpload(link *components.Link) error {
	f, err := link.Read()
	if err != nil {
		return fmt.Errorf("client: read upload END_DISTORT: %w", err)
	}
	if f.Type != frame.TypeEndDistort || string(f.Payload) != "CHECK_OK" {
		return fmt.Errorf("client: upload check failed: %s", f.Payload)
	}
	return link.Send(frame.TypeEndDistort, []byte("OK"))
}

// download implements spec.md §4.6 step 7: receive the distorted mirror,
// applying the same failover procedure on reception errors. It returns the
// (possibly replaced) link.
func (o *Orchestrator) download(link *components.Link, kind components.Kind, filename, payload, outPath string, report Progress) (*components.Link, error) {
	f, err := link.Read()
	if err != nil {
		return link, fmt.Errorf("client: read START_DISTORT_BACK: %w", err)
	}
	if f.Type != frame.TypeStartDistortBack {
		return link, fmt.Errorf("client: expected START_DISTORT_BACK, got %s", f.Type)
	}
	fields, err := frame.SplitFields(f.Payload, 2)
	if err != nil {
		return link, fmt.Errorf("client: malformed START_DISTORT_BACK payload")
	}
	outSize, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return link, fmt.Errorf("client: malformed output size")
	}
	outMD5 := fields[1]

	if err := link.Send(frame.TypeStartDistortBack, []byte("OK")); err != nil {
		return link, fmt.Errorf("client: ack START_DISTORT_BACK: %w", err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return link, fmt.Errorf("client: %w", err)
	}
	defer out.Close()

	var received int64
	for received < outSize {
		f, err := link.Read()
		if err != nil {
			o.Printf("Download link lost at byte %d/%d, failing over", received, outSize)
			newLink, ferr := o.failover(kind, filename, payload)
			if ferr != nil {
				return link, ferr
			}
			link = newLink
			continue
		}
		if f.Type != frame.TypeFileData {
			return link, fmt.Errorf("client: expected FILE_DATA, got %s", f.Type)
		}
		if _, err := out.Write(f.Payload); err != nil {
			return link, fmt.Errorf("client: %w", err)
		}
		received += int64(len(f.Payload))
		if report != nil {
			report(50 + int(received*50/outSize))
		}
		if err := link.Send(frame.TypeFileData, []byte("OK")); err != nil {
			o.Printf("Download ack lost at byte %d/%d, failing over", received, outSize)
			newLink, ferr := o.failover(kind, filename, payload)
			if ferr != nil {
				return link, ferr
			}
			link = newLink
		}
	}
	if err := out.Close(); err != nil {
		return link, fmt.Errorf("client: %w", err)
	}

	sum, err := fileMD5(outPath)
	if err != nil {
		return link, fmt.Errorf("client: %w", err)
	}
	if sum != outMD5 {
		_ = link.Send(frame.TypeEndDistort, []byte("CHECK_KO"))
		_, _ = link.Read()
		return link, ErrChecksumMismatch
	}
	if err := link.Send(frame.TypeEndDistort, []byte("CHECK_OK")); err != nil {
		return link, fmt.Errorf("client: send final CHECK_OK: %w", err)
	}
	if _, err := link.Read(); err != nil {
		return link, fmt.Errorf("client: read final ack: %w", err)
	}
	return link, nil
}

func toComponentsKind(k distortion.Kind) components.Kind {
	if k == distortion.KindMedia {
		return components.KindMedia
	}
	return components.KindText
}

func fileSizeAndMD5(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, "", err
	}
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, "", err
	}
	return info.Size(), hex.EncodeToString(h.Sum(nil)), nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

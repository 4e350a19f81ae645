// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fingerprint derives a stable machine identity hash.
//
// A snapshot captured on one machine must never be restored on another, so
// every snapshot carries the fingerprint of the machine it was captured on.
// The fingerprint combines several weakly-identifying hardware and software
// signals and runs them through a salted, iterated hash; no individual
// signal is recoverable from the result.
//
// Fingerprinting gates safety-critical restore decisions, so it degrades
// gracefully: a signal that cannot be read contributes a fixed placeholder
// instead of failing generation.
package fingerprint

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/sys/unix"
)

const (
	// placeholder stands in for any signal that cannot be read.
	placeholder = "unavailable"

	// hashIterations is the PBKDF2 iteration count. The minimum the
	// restore-eligibility policy accepts is 1000; 4096 keeps headroom
	// without measurable cost at one generation per operation.
	hashIterations = 4096

	keyLength = 32
)

// salt is fixed: the fingerprint is an identity, not a secret, and two
// generations on the same machine must agree.
var salt = []byte("sysrestore-machine-identity-v1")

// Source is one identity signal. Read returns the raw signal text; any
// error is treated as "signal unavailable", never surfaced further.
type Source struct {
	Name string
	Read func() (string, error)
}

// Generator produces and validates machine fingerprints.
//
// # Thread Safety
//
// Safe for concurrent use; Generate is a pure function of the sources.
type Generator struct {
	sources []Source
	logger  *slog.Logger
}

// New returns a Generator over the default hardware/software signal set:
// machine name, logical processor count, processor model, kernel identity,
// OS installation id, motherboard serial, product UUID, primary disk
// serial, primary network adapter hardware address, and TPM identity when
// present.
func New(logger *slog.Logger) *Generator {
	return NewWithSources(defaultSources(), logger)
}

// NewWithSources returns a Generator over an explicit signal set. Tests use
// this to simulate hardware changes.
func NewWithSources(sources []Source, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		sources: sources,
		logger:  logger.With("component", "fingerprint"),
	}
}

// Generate derives the fingerprint for the current machine.
//
// # Description
//
// Reads every signal, substituting a placeholder for any that fails, joins
// them into one composite string, and applies PBKDF2-SHA256 with a fixed
// salt and iteration count. The result is a hex string; identical machines
// (same signals) always produce the identical fingerprint.
//
// Generate never fails. A machine where every signal is unavailable still
// yields a (weak but stable) fingerprint.
func (g *Generator) Generate() string {
	parts := make([]string, 0, len(g.sources))
	unavailable := 0
	for _, src := range g.sources {
		v, err := src.Read()
		if err != nil || strings.TrimSpace(v) == "" {
			unavailable++
			v = placeholder
		}
		parts = append(parts, src.Name+"="+strings.TrimSpace(v))
	}
	if unavailable > 0 {
		g.logger.Debug("fingerprint signals unavailable",
			"unavailable", unavailable,
			"total", len(g.sources))
	}

	composite := strings.Join(parts, "|")
	key := pbkdf2.Key([]byte(composite), salt, hashIterations, keyLength, sha256.New)
	return hex.EncodeToString(key)
}

// Validate regenerates the fingerprint and compares it to expected.
//
// A mismatch is a data point (hardware change, or a snapshot from another
// machine), not an error: Validate only ever returns a boolean.
func (g *Generator) Validate(expected string) bool {
	if expected == "" {
		return false
	}
	current := g.Generate()
	return subtle.ConstantTimeCompare([]byte(current), []byte(expected)) == 1
}

// -----------------------------------------------------------------------------
// Default signal sources
// -----------------------------------------------------------------------------

func defaultSources() []Source {
	return []Source{
		{Name: "machine_name", Read: os.Hostname},
		{Name: "logical_processors", Read: func() (string, error) {
			return fmt.Sprintf("%d", runtime.NumCPU()), nil
		}},
		{Name: "processor_id", Read: readProcessorModel},
		{Name: "kernel", Read: readUname},
		{Name: "os_install_id", Read: fileSignal("/etc/machine-id")},
		{Name: "board_serial", Read: fileSignal("/sys/class/dmi/id/board_serial")},
		{Name: "product_uuid", Read: fileSignal("/sys/class/dmi/id/product_uuid")},
		{Name: "disk_serial", Read: readPrimaryDiskSerial},
		{Name: "nic_address", Read: readPrimaryHardwareAddress},
		{Name: "tpm_id", Read: fileSignal("/sys/class/tpm/tpm0/device/description")},
	}
}

// fileSignal reads a small identity file, trimmed.
func fileSignal(path string) func() (string, error) {
	return func() (string, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
}

// readProcessorModel returns the model string of the first processor in
// /proc/cpuinfo.
func readProcessorModel() (string, error) {
	b, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return "", err
	}
	return processorModel(b)
}

// processorModel extracts the first processor model line. The key varies
// by architecture ("model name" on x86, "Processor" or "cpu model" on
// ARM/MIPS).
func processorModel(cpuinfo []byte) (string, error) {
	for _, line := range strings.Split(string(cpuinfo), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "model name", "Processor", "cpu model":
			if v := strings.TrimSpace(value); v != "" {
				return v, nil
			}
		}
	}
	return "", fmt.Errorf("no processor model in cpuinfo")
}

// readUname combines the stable parts of uname: machine architecture and
// OS name. Kernel release is deliberately excluded; routine kernel updates
// must not look like a hardware change.
func readUname() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return unixStr(uts.Sysname[:]) + "/" + unixStr(uts.Machine[:]), nil
}

func unixStr(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// readPrimaryDiskSerial returns the serial of the first block device that
// exposes one.
func readPrimaryDiskSerial() (string, error) {
	entries, err := os.ReadDir("/sys/block")
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join("/sys/block", e.Name(), "device", "serial"))
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(string(b)); s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("no block device exposes a serial")
}

// readPrimaryHardwareAddress returns the MAC of the first non-loopback
// interface with a hardware address.
func readPrimaryHardwareAddress() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String(), nil
	}
	return "", fmt.Errorf("no interface with a hardware address")
}

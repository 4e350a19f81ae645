// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fingerprint

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSources(values map[string]string) []Source {
	sources := []Source{
		{Name: "machine_name", Read: reader(values, "machine_name")},
		{Name: "board_serial", Read: reader(values, "board_serial")},
		{Name: "nic_address", Read: reader(values, "nic_address")},
	}
	return sources
}

func reader(values map[string]string, name string) func() (string, error) {
	return func() (string, error) {
		v, ok := values[name]
		if !ok {
			return "", fmt.Errorf("signal %s not readable", name)
		}
		return v, nil
	}
}

func TestGenerateIsStable(t *testing.T) {
	signals := map[string]string{
		"machine_name": "atlas",
		"board_serial": "BRD-001",
		"nic_address":  "aa:bb:cc:dd:ee:ff",
	}
	gen := NewWithSources(fixedSources(signals), nil)

	first := gen.Generate()
	second := gen.Generate()

	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64) // 32 bytes hex
}

func TestGenerateChangesWhenSignalChanges(t *testing.T) {
	signals := map[string]string{
		"machine_name": "atlas",
		"board_serial": "BRD-001",
		"nic_address":  "aa:bb:cc:dd:ee:ff",
	}
	gen := NewWithSources(fixedSources(signals), nil)
	before := gen.Generate()

	signals["board_serial"] = "BRD-002" // simulated motherboard swap
	after := gen.Generate()

	assert.NotEqual(t, before, after)
}

func TestGenerateDegradesGracefully(t *testing.T) {
	// Every signal fails; generation must still succeed and be stable.
	gen := NewWithSources(fixedSources(map[string]string{}), nil)

	first := gen.Generate()
	second := gen.Generate()

	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestUnavailableSignalDoesNotMatchPresentSignal(t *testing.T) {
	full := NewWithSources(fixedSources(map[string]string{
		"machine_name": "atlas",
		"board_serial": "BRD-001",
		"nic_address":  "aa:bb:cc:dd:ee:ff",
	}), nil)
	degraded := NewWithSources(fixedSources(map[string]string{
		"machine_name": "atlas",
		"nic_address":  "aa:bb:cc:dd:ee:ff",
	}), nil)

	assert.NotEqual(t, full.Generate(), degraded.Generate())
}

func TestValidate(t *testing.T) {
	gen := NewWithSources(fixedSources(map[string]string{
		"machine_name": "atlas",
		"board_serial": "BRD-001",
		"nic_address":  "aa:bb:cc:dd:ee:ff",
	}), nil)
	fp := gen.Generate()

	assert.True(t, gen.Validate(fp))
	assert.False(t, gen.Validate("deadbeef"))
	assert.False(t, gen.Validate(""))
}

func TestValidateOnDifferentMachine(t *testing.T) {
	a := NewWithSources(fixedSources(map[string]string{
		"machine_name": "atlas",
		"board_serial": "BRD-001",
		"nic_address":  "aa:bb:cc:dd:ee:ff",
	}), nil)
	b := NewWithSources(fixedSources(map[string]string{
		"machine_name": "borealis",
		"board_serial": "BRD-777",
		"nic_address":  "11:22:33:44:55:66",
	}), nil)

	assert.False(t, b.Validate(a.Generate()))
}

func TestDefaultSourcesNeverPanic(t *testing.T) {
	// Runs against the real host; every source either reads or degrades.
	gen := New(nil)
	assert.NotEmpty(t, gen.Generate())
}

func TestDefaultSourcesIncludeProcessorIdentity(t *testing.T) {
	names := make(map[string]bool)
	for _, src := range defaultSources() {
		names[src.Name] = true
	}
	assert.True(t, names["processor_id"])
}

func TestProcessorModel(t *testing.T) {
	x86 := []byte(`processor	: 0
vendor_id	: GenuineIntel
model name	: Intel(R) Core(TM) i7-9750H CPU @ 2.60GHz
flags		: fpu vme
`)
	model, err := processorModel(x86)
	require.NoError(t, err)
	assert.Equal(t, "Intel(R) Core(TM) i7-9750H CPU @ 2.60GHz", model)

	arm := []byte(`Processor	: ARMv8 Processor rev 1
BogoMIPS	: 38.40
`)
	model, err = processorModel(arm)
	require.NoError(t, err)
	assert.Equal(t, "ARMv8 Processor rev 1", model)

	_, err = processorModel([]byte("flags\t: fpu vme\n"))
	assert.Error(t, err)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValueEqual(t *testing.T) {
	tests := []struct {
		name  string
		a, b  ConfigValue
		equal bool
	}{
		{name: "same dword", a: Dword(7), b: Dword(7), equal: true},
		{name: "different dword", a: Dword(7), b: Dword(8), equal: false},
		{name: "kind mismatch", a: Dword(7), b: Qword(7), equal: false},
		{name: "string vs expand string", a: String("x"), b: ExpandString("x"), equal: false},
		{name: "same multi string", a: MultiString("a", "b"), b: MultiString("a", "b"), equal: true},
		{name: "reordered multi string", a: MultiString("a", "b"), b: MultiString("b", "a"), equal: false},
		{name: "same binary", a: Binary([]byte{1, 2}), b: Binary([]byte{1, 2}), equal: true},
		{name: "different binary length", a: Binary([]byte{1}), b: Binary([]byte{1, 2}), equal: false},
		{name: "empty binary vs nil", a: Binary(nil), b: Binary([]byte{}), equal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, tt.a.Equal(tt.b))
			assert.Equal(t, tt.equal, tt.b.Equal(tt.a))
		})
	}
}

func TestConfigValueDisplayTruncatesBinary(t *testing.T) {
	v := Binary(make([]byte, 64))
	s := v.Display()
	assert.Contains(t, s, "(64 bytes)")
	assert.Contains(t, s, "...")
}

func TestMemGatewayConfigRoundTrip(t *testing.T) {
	g := NewMemGateway()
	store := g.Config()

	_, ok, err := store.Get(`tune\tcp\WindowScaling`)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(`tune\tcp\WindowScaling`, Dword(1)))
	v, ok, err := store.Get(`tune\tcp\WindowScaling`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(Dword(1)))

	require.NoError(t, store.Delete(`tune\tcp\WindowScaling`))
	_, ok, err = store.Get(`tune\tcp\WindowScaling`)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent location is a no-op, not an error.
	require.NoError(t, store.Delete(`tune\tcp\WindowScaling`))
}

func TestMemGatewayExportFiltersByPrefix(t *testing.T) {
	g := NewMemGateway()
	g.Seed(`tune\tcp\A`, Dword(1))
	g.Seed(`tune\udp\B`, Dword(2))
	g.Seed(`other\C`, Dword(3))

	out, err := g.Config().Export([]string{`tune\tcp`})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Contains(t, out, `tune\tcp\A`)
}

func TestMemGatewayStopCountdown(t *testing.T) {
	g := NewMemGateway()
	g.AddService("spooler", ServiceStatus{State: StateRunning, StartMode: StartAutomatic, CanStop: true})
	g.SetStopBehavior("spooler", 2, false)

	require.NoError(t, g.Services().Stop(t.Context(), "spooler"))

	st, err := g.Services().Query("spooler")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)

	st, err = g.Services().Query("spooler")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, st.State)
}

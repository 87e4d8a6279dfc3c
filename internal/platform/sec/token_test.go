// Copyright (c) 2026 Gatehouse. All rights reserved.

package sec_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/internal/platform/sec"
)

/*
TestGenerateToken_Shape verifies the encoded width and hex alphabet.
*/
func TestGenerateToken_Shape(t *testing.T) {
	token, err := sec.GenerateToken()
	require.NoError(t, err)

	assert.Len(t, token, sec.TokenHexLength)

	decoded, err := hex.DecodeString(token)
	require.NoError(t, err)
	assert.Len(t, decoded, sec.TokenByteLength)
}

/*
TestGenerateToken_Uniqueness generates a batch of tokens and requires them
all to be distinct.
*/
func TestGenerateToken_Uniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 100)

	for i := 0; i < 100; i++ {
		token, err := sec.GenerateToken()
		require.NoError(t, err)

		_, duplicate := seen[token]
		require.False(t, duplicate, "token %q generated twice", token)
		seen[token] = struct{}{}
	}
}

/*
TestValidateToken covers reflexivity, mismatch, and the empty/length guards.
*/
func TestValidateToken(t *testing.T) {
	token, err := sec.GenerateToken()
	require.NoError(t, err)

	other, err := sec.GenerateToken()
	require.NoError(t, err)

	tests := []struct {
		name    string
		request string
		stored  string
		want    bool
	}{
		{"matching_tokens", token, token, true},
		{"different_tokens", token, other, false},
		{"empty_request", "", token, false},
		{"empty_stored", token, "", false},
		{"both_empty", "", "", false},
		{"length_mismatch", token[:32], token, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sec.ValidateToken(tt.request, tt.stored))
		})
	}
}

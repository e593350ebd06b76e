// Copyright (c) 2020 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

package archive

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	other, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	recipients, err := ParseRecipients([]string{"", " " + identity.Recipient().String() + " "})
	require.NoError(t, err)
	require.Len(t, recipients, 1)

	encrypted := &bytes.Buffer{}
	require.NoError(t, Encrypt(encrypted, strings.NewReader(bigContent), recipients...))
	assert.NotContains(t, encrypted.String(), "test")

	ok, r, err := IsEncrypted(bytes.NewReader(encrypted.Bytes()))
	require.NoError(t, err)
	assert.True(t, ok)

	decrypted := &bytes.Buffer{}
	require.NoError(t, Decrypt(decrypted, r, identity))
	assert.Equal(t, bigContent, decrypted.String())

	err = Decrypt(io.Discard, bytes.NewReader(encrypted.Bytes()), other)
	assert.Error(t, err)

	err = Decrypt(io.Discard, bytes.NewReader(encrypted.Bytes()))
	assert.Equal(t, ErrNoIdentity, err)
}

func TestIsEncrypted(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"sqlite", "SQLite format 3\x00", false},
		{"age", ageMagic + "\n-> X25519 abc\n", true},
		{"short", "age", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, r, err := IsEncrypted(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			// the returned reader is not consumed
			rest, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, tt.input, string(rest))
		})
	}
}

func TestParseRecipients(t *testing.T) {
	recipients, err := ParseRecipients(nil)
	require.NoError(t, err)
	assert.Empty(t, recipients)

	_, err = ParseRecipients([]string{"age1notakey"})
	assert.Error(t, err)
}

func TestReadIdentities(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	file := "# created for tests\n" + identity.String() + "\n"
	identities, err := ReadIdentities(strings.NewReader(file))
	require.NoError(t, err)
	require.Len(t, identities, 1)

	_, err = ReadIdentities(strings.NewReader("# empty\n"))
	assert.Error(t, err)
}

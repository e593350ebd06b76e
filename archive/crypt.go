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
	"bufio"
	"bytes"
	"io"
	"strings"

	"filippo.io/age"
	"github.com/pkg/errors"
)

// ageMagic starts every age file.
const ageMagic = "age-encryption.org/v1"

// ErrNoIdentity is returned when an encrypted archive is opened without
// identities.
var ErrNoIdentity = errors.New("archive is encrypted, an identity is required")

// ParseRecipients parses age public keys, one per entry.
func ParseRecipients(keys []string) ([]age.Recipient, error) {
	var lines []string
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			lines = append(lines, key)
		}
	}
	if len(lines) == 0 {
		return nil, nil
	}
	recipients, err := age.ParseRecipients(strings.NewReader(strings.Join(lines, "\n")))
	if err != nil {
		return nil, errors.Wrap(err, "parsing recipients")
	}
	return recipients, nil
}

// ReadIdentities parses an age identity file.
func ReadIdentities(r io.Reader) ([]age.Identity, error) {
	identities, err := age.ParseIdentities(r)
	if err != nil {
		return nil, errors.Wrap(err, "parsing identities")
	}
	return identities, nil
}

// Encrypt copies src to dst encrypted for all recipients.
func Encrypt(dst io.Writer, src io.Reader, recipients ...age.Recipient) error {
	encWriter, err := age.Encrypt(dst, recipients...)
	if err != nil {
		return errors.Wrap(err, "creating encrypted writer")
	}
	if _, err := io.Copy(encWriter, src); err != nil {
		return errors.Wrap(err, "encrypting archive")
	}
	return errors.Wrap(encWriter.Close(), "finalizing encryption")
}

// Decrypt copies the decrypted content of src to dst.
func Decrypt(dst io.Writer, src io.Reader, identities ...age.Identity) error {
	if len(identities) == 0 {
		return ErrNoIdentity
	}
	decReader, err := age.Decrypt(src, identities...)
	if err != nil {
		return errors.Wrap(err, "creating decrypted reader")
	}
	_, err = io.Copy(dst, decReader)
	return errors.Wrap(err, "decrypting archive")
}

// IsEncrypted peeks at the start of r and reports whether it is an age file.
// The returned reader yields the complete input.
func IsEncrypted(r io.Reader) (bool, io.Reader, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(len(ageMagic))
	if err != nil && err != io.EOF {
		return false, br, err
	}
	return bytes.Equal(header, []byte(ageMagic)), br, nil
}

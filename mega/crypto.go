package mega

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errBadKey = errors.New("invalid MEGA key")

// decodeBase64 reads MEGA's unpadded url-safe base64
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	s = strings.NewReplacer("+", "-", "/", "_", ",", "").Replace(s)
	return base64.RawURLEncoding.DecodeString(s)
}

func encodeBase64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// decryptECB decrypts whole AES blocks in place order
func decryptECB(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, errBadKey
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		block.Decrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
	}
	return out, nil
}

// foldKey turns a 256-bit file key into the 128-bit AES key and the 64-bit CTR nonce
func foldKey(full []byte) (key, nonce []byte, err error) {
	switch len(full) {
	case 32:
		key = make([]byte, 16)
		for i := 0; i < 16; i++ {
			key[i] = full[i] ^ full[i+16]
		}
		return key, append([]byte(nil), full[16:24]...), nil
	case 16:
		return full, make([]byte, 8), nil
	default:
		return nil, nil, errBadKey
	}
}

// decryptAttributes returns the node name from an attribute blob
func decryptAttributes(key []byte, attr string) (string, error) {
	data, err := decodeBase64(attr)
	if err != nil {
		return "", err
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", errBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(plain, data)

	plain = bytes.TrimRight(plain, "\x00")
	if !bytes.HasPrefix(plain, []byte("MEGA{")) {
		return "", errBadKey
	}
	var attrs struct {
		Name string `json:"n"`
	}
	if err := json.Unmarshal(plain[4:], &attrs); err != nil {
		return "", fmt.Errorf("malformed attributes: %w", err)
	}
	return attrs.Name, nil
}

// NewDecryptReader decrypts a MEGA payload read from r. offset is the byte
// position r starts at, so resumed downloads can continue the keystream.
func NewDecryptReader(r io.Reader, hexKey string, offset int64) (io.Reader, error) {
	full, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errBadKey
	}
	key, nonce, err := foldKey(full)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, aes.BlockSize)
	copy(iv, nonce)
	binary.BigEndian.PutUint64(iv[8:], uint64(offset/aes.BlockSize))
	stream := cipher.NewCTR(block, iv)

	if skip := int(offset % aes.BlockSize); skip > 0 {
		discard := make([]byte, skip)
		stream.XORKeyStream(discard, discard)
	}
	return &cipher.StreamReader{S: stream, R: r}, nil
}

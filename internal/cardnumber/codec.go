package cardnumber

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// NumberLength is the length of every generated card number
	NumberLength = 16
	// DefaultBIN is used when no issuer prefix is configured
	DefaultBIN = "400000"

	maskPrefix = "**** **** **** "
)

// Algorithm names accepted by NewCodec
const (
	AlgorithmGCM = "AES/GCM"
	AlgorithmCBC = "AES/CBC"
	AlgorithmECB = "AES/ECB"
)

var (
	// ErrInvalidCiphertext is returned when a stored number cannot be decrypted
	// with the current key and algorithm.
	ErrInvalidCiphertext = errors.New("invalid card number ciphertext")
	// ErrNumberTooShort is returned by Mask for input shorter than four characters
	ErrNumberTooShort = errors.New("card number must have at least 4 characters")
)

// Codec generates, encrypts, decrypts, masks and fingerprints card numbers
type Codec struct {
	algorithm  string
	block      cipher.Block
	hmacSecret []byte
	bin        string
}

// NewCodec builds a codec for the given algorithm and AES key
func NewCodec(algorithm string, key, hmacSecret []byte, bin string) (*Codec, error) {
	alg, err := normalizeAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes, got %d", len(key))
	}
	if len(hmacSecret) == 0 {
		return nil, fmt.Errorf("hmac secret is empty")
	}
	if bin == "" {
		bin = DefaultBIN
	}
	if !isDigits(bin) || len(bin) < 6 || len(bin) >= NumberLength-1 {
		return nil, fmt.Errorf("invalid BIN prefix: %q", bin)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &Codec{
		algorithm:  alg,
		block:      block,
		hmacSecret: append([]byte(nil), hmacSecret...),
		bin:        bin,
	}, nil
}

func normalizeAlgorithm(algorithm string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(algorithm)) {
	case "", AlgorithmGCM, "AES/GCM/NOPADDING":
		return AlgorithmGCM, nil
	case AlgorithmCBC, "AES/CBC/PKCS5PADDING":
		return AlgorithmCBC, nil
	case "AES", AlgorithmECB, "AES/ECB/PKCS5PADDING":
		return AlgorithmECB, nil
	}
	return "", fmt.Errorf("unsupported card encryption algorithm %q", algorithm)
}

// Algorithm returns the normalized algorithm name
func (c *Codec) Algorithm() string {
	return c.algorithm
}

// Generate returns a 16-digit number: BIN prefix, random digits, Luhn check digit
func (c *Codec) Generate() (string, error) {
	fill := NumberLength - 1 - len(c.bin)
	digits, err := randomDigits(fill)
	if err != nil {
		return "", fmt.Errorf("failed to generate random digits: %w", err)
	}
	body := c.bin + digits
	number := body + luhnCheckDigit(body)

	if len(number) != NumberLength {
		return "", fmt.Errorf("generated card number has incorrect length: got %d, want %d", len(number), NumberLength)
	}
	return number, nil
}

// Encrypt encrypts a plain card number and hex-encodes the result
func (c *Codec) Encrypt(plain string) (string, error) {
	if len(plain) == 0 {
		return "", fmt.Errorf("input data is empty")
	}

	var (
		out []byte
		err error
	)
	switch c.algorithm {
	case AlgorithmGCM:
		out, err = c.sealGCM([]byte(plain))
	case AlgorithmCBC:
		out, err = c.encryptCBC([]byte(plain))
	default:
		out = c.encryptECB([]byte(plain))
	}
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any failure is reported as ErrInvalidCiphertext.
func (c *Codec) Decrypt(encrypted string) (string, error) {
	if len(encrypted) == 0 {
		return "", fmt.Errorf("%w: encrypted data is empty", ErrInvalidCiphertext)
	}
	data, err := hex.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: failed to decode hex: %v", ErrInvalidCiphertext, err)
	}

	var plain []byte
	switch c.algorithm {
	case AlgorithmGCM:
		plain, err = c.openGCM(data)
	case AlgorithmCBC:
		plain, err = c.decryptCBC(data)
	default:
		plain, err = c.decryptECB(data)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plain), nil
}

// Mask hides everything but the last four characters
func (c *Codec) Mask(plain string) (string, error) {
	return Mask(plain)
}

// Mask hides everything but the last four characters
func Mask(plain string) (string, error) {
	if len(plain) < 4 {
		return "", ErrNumberTooShort
	}
	return maskPrefix + plain[len(plain)-4:], nil
}

// Fingerprint returns a hex HMAC-SHA256 of the plain number. It is stable for a
// given secret, so the store can enforce number uniqueness on it whatever the
// cipher mode.
func (c *Codec) Fingerprint(plain string) string {
	h := hmac.New(sha256.New, c.hmacSecret)
	h.Write([]byte(plain))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Codec) sealGCM(plain []byte) ([]byte, error) {
	gcm, err := cipher.NewGCM(c.block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func (c *Codec) openGCM(data []byte) ([]byte, error) {
	gcm, err := cipher.NewGCM(c.block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(data) < gcm.NonceSize()+gcm.Overhead() {
		return nil, fmt.Errorf("encrypted data too short: %d bytes", len(data))
	}
	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

func (c *Codec) encryptCBC(plain []byte) ([]byte, error) {
	out := make([]byte, aes.BlockSize, aes.BlockSize+len(plain)+aes.BlockSize)
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}
	padded := pad(plain)
	iv := out[:aes.BlockSize]
	out = out[:aes.BlockSize+len(padded)]
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

func (c *Codec) decryptCBC(data []byte) ([]byte, error) {
	if len(data) < 2*aes.BlockSize {
		return nil, fmt.Errorf("cbc payload of %d bytes holds no block after the IV", len(data))
	}
	body := data[aes.BlockSize:]
	if err := checkBlocks(body); err != nil {
		return nil, err
	}
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(c.block, data[:aes.BlockSize]).CryptBlocks(plain, body)
	return unpad(plain)
}

// ECB is deterministic: equal numbers give equal ciphertexts.
func (c *Codec) encryptECB(plain []byte) []byte {
	padded := pad(plain)
	for i := 0; i < len(padded); i += aes.BlockSize {
		c.block.Encrypt(padded[i:i+aes.BlockSize], padded[i:i+aes.BlockSize])
	}
	return padded
}

func (c *Codec) decryptECB(data []byte) ([]byte, error) {
	if err := checkBlocks(data); err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		c.block.Decrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
	}
	return unpad(out)
}

func checkBlocks(data []byte) error {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return fmt.Errorf("ciphertext of %d bytes is not a whole number of blocks", len(data))
	}
	return nil
}

// pad appends PKCS#7 padding to a fresh copy of data
func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad strips PKCS#7 padding from a whole number of blocks
func unpad(data []byte) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || !bytes.Equal(data[len(data)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, errors.New("bad padding")
	}
	return data[:len(data)-n], nil
}

// randomDigits uses rejection sampling so that every digit is equally likely
func randomDigits(count int) (string, error) {
	if count <= 0 {
		return "", nil
	}
	const threshold = 250 // 256 - (256 % 10)
	var sb strings.Builder
	sb.Grow(count)
	buf := make([]byte, 32)
	for sb.Len() < count {
		n, err := rand.Read(buf)
		if err != nil {
			return "", err
		}
		for i := 0; i < n && sb.Len() < count; i++ {
			if buf[i] < threshold {
				sb.WriteByte('0' + buf[i]%10)
			}
		}
	}
	return sb.String(), nil
}

func luhnCheckDigit(body string) string {
	sum, double := 0, true
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return string(rune('0' + (10-sum%10)%10))
}

// ValidLuhn reports whether number is all digits and carries a valid check digit
func ValidLuhn(number string) bool {
	if len(number) < 2 || !isDigits(number) {
		return false
	}
	body := number[:len(number)-1]
	return luhnCheckDigit(body)[0] == number[len(number)-1]
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

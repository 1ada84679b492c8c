// source/encrypted.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

// Portions derived from skicka, (c) 2016 Google, Inc. (BSD licensed).

package source

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// KeyFileName is the name of the file in an encrypted source directory
// that holds the (passphrase-encrypted) encryption key.
const KeyFileName = "encrypt.txt"

const ivLength = aes.BlockSize

var (
	ErrWrongPassphrase = errors.New("incorrect passphrase")
	ErrNoKeyFile       = errors.New("no " + KeyFileName + " key file found")
)

///////////////////////////////////////////////////////////////////////////
// encrypted

// encrypted implements the Directory interface. It wraps another
// Directory whose files are AES-encrypted at rest (16-byte random
// initialization vector followed by the CFB-encrypted contents) and
// decrypts file data as it passes through ReadAt.
type encrypted struct {
	dir Directory
	key []byte
}

// NewEncrypted returns a Directory that transparently decrypts the
// files of the underlying Directory. The encryption key is read from
// the directory's encrypt.txt file, unlocked with the given
// passphrase.
func NewEncrypted(dir Directory, passphrase string) (Directory, error) {
	kf, err := dir.Open(KeyFileName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir.String(), ErrNoKeyFile)
	}
	defer kf.Close()

	enc, err := ioutil.ReadAll(io.NewSectionReader(kf, 0, kf.Size()))
	if err != nil {
		return nil, err
	}

	key, err := decryptKey(string(enc), passphrase)
	if err != nil {
		return nil, err
	}

	return &encrypted{dir: dir, key: key}, nil
}

func (e *encrypted) String() string {
	return "encrypted " + e.dir.String()
}

func (e *encrypted) List() ([]string, error) {
	names, err := e.dir.List()
	if err != nil {
		return nil, err
	}

	// The key file is bookkeeping, not a source file.
	filtered := names[:0]
	for _, name := range names {
		if name != KeyFileName {
			filtered = append(filtered, name)
		}
	}
	return filtered, nil
}

func (e *encrypted) Open(name string) (File, error) {
	f, err := e.dir.Open(name)
	if err != nil {
		return nil, err
	}

	if f.Size() < ivLength {
		f.Close()
		return nil, fmt.Errorf("%s: too short to hold an initialization vector", name)
	}

	// The initialization vector is stored at the start of the file.
	var iv [ivLength]byte
	if _, err := f.ReadAt(iv[:], 0); err != nil {
		f.Close()
		return nil, err
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &encryptedFile{f: f, block: block, iv: iv,
		size: f.Size() - ivLength}, nil
}

// encryptedFile decrypts CFB-encrypted contents on the fly. Random
// access works because decrypting the CFB block at a given offset only
// needs the preceding ciphertext block (or the IV for the first one) to
// re-seed the cipher, so each ReadAt is self-contained and the handle
// stays safe for concurrent use.
type encryptedFile struct {
	f     File
	block cipher.Block
	iv    [ivLength]byte
	size  int64
}

func (ef *encryptedFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= ef.size {
		return 0, io.EOF
	}

	want := int64(len(p))
	if off+want > ef.size {
		want = ef.size - off
	}

	startBlock := off / ivLength
	skip := off % ivLength

	// Fetch the ciphertext block preceding the first one we decrypt;
	// it acts as the IV for a CFB decrypter starting mid-stream.
	var prior [ivLength]byte
	if startBlock == 0 {
		prior = ef.iv
	} else {
		if _, err := ef.f.ReadAt(prior[:], ivLength+(startBlock-1)*ivLength); err != nil {
			return 0, err
		}
	}

	// Read the ciphertext covering the requested range, including the
	// skipped prefix of the first block.
	cbuf := make([]byte, skip+want)
	n, err := ef.f.ReadAt(cbuf, ivLength+startBlock*ivLength)
	if int64(n) <= skip {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	if err != nil && err != io.EOF {
		return 0, err
	}
	cbuf = cbuf[:n]

	stream := cipher.NewCFBDecrypter(ef.block, prior[:])
	stream.XORKeyStream(cbuf, cbuf)

	got := copy(p, cbuf[skip:])
	if int64(got) < int64(len(p)) {
		return got, io.EOF
	}
	return got, nil
}

func (ef *encryptedFile) Close() error {
	return ef.f.Close()
}

func (ef *encryptedFile) Name() string {
	return ef.f.Name()
}

func (ef *encryptedFile) Size() int64 {
	return ef.size
}

func (ef *encryptedFile) ModTime() time.Time {
	return ef.f.ModTime()
}

///////////////////////////////////////////////////////////////////////////
// File encryption helpers (used by the xorcrypt tool and tests)

// EncryptTo encrypts the bytes of r with the given key, writing a
// random initialization vector followed by the CFB ciphertext to w.
func EncryptTo(key []byte, w io.Writer, r io.Reader) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}

	iv, err := getRandomBytes(ivLength)
	if err != nil {
		return err
	}
	if _, err := w.Write(iv); err != nil {
		return err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	_, err = io.Copy(&cipher.StreamWriter{S: stream, W: w}, r)
	return err
}

// DecryptTo reverses EncryptTo: it reads the initialization vector
// from r and writes the decrypted contents to w.
func DecryptTo(key []byte, w io.Writer, r io.Reader) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}

	var iv [ivLength]byte
	if _, err := io.ReadFull(r, iv[:]); err != nil {
		return err
	}

	stream := cipher.NewCFBDecrypter(block, iv[:])
	_, err = io.Copy(w, &cipher.StreamReader{S: stream, R: r})
	return err
}

///////////////////////////////////////////////////////////////////////////
// Key generation, representation, and management.

// Return the given number of bytes of random values, using a
// cryptographically-strong random number source.
func getRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

func decodeHexString(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// CreateKeyFile generates a new encryption key, encrypts it with the
// given passphrase, and stores it in the encrypt.txt file in the given
// directory. The plaintext key is returned. It's an error for a key
// file to already exist.
func CreateKeyFile(dir string, passphrase string) ([]byte, error) {
	path := filepath.Join(dir, KeyFileName)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%s: key file already exists", path)
	}

	// Derive a 64-byte hash from the passphrase using PBKDF2 with
	// 65536 rounds of SHA256. The first 32 bytes are stored so that the
	// passphrase can be checked on subsequent runs; the remaining 32
	// bytes encrypt the actual key and are never stored.
	salt, err := getRandomBytes(32)
	if err != nil {
		return nil, err
	}
	derived := pbkdf2.Key([]byte(passphrase), salt, 65536, 64, sha256.New)
	passHash, keyEncryptKey := derived[:32], derived[32:]

	key, err := getRandomBytes(32)
	if err != nil {
		return nil, err
	}
	iv, err := getRandomBytes(ivLength)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(keyEncryptKey)
	if err != nil {
		return nil, err
	}
	encKey := make([]byte, len(key))
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(encKey, key)

	enc := fmt.Sprintf("%s\n", hex.EncodeToString(salt))
	enc += fmt.Sprintf("%s\n", hex.EncodeToString(passHash))
	enc += fmt.Sprintf("%s\n", hex.EncodeToString(encKey))
	enc += fmt.Sprintf("%s\n", hex.EncodeToString(iv))

	if err := ioutil.WriteFile(path, []byte(enc), 0600); err != nil {
		return nil, err
	}
	return key, nil
}

// LoadKeyFile reads the encrypt.txt file in the given directory and
// returns the encryption key it holds, unlocked with the passphrase.
func LoadKeyFile(dir string, passphrase string) ([]byte, error) {
	enc, err := ioutil.ReadFile(filepath.Join(dir, KeyFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNoKeyFile)
		}
		return nil, err
	}
	return decryptKey(string(enc), passphrase)
}

func decryptKey(enc string, passphrase string) ([]byte, error) {
	// Parse the various values from the encryption config file text.
	var saltHex, passHashHex, encKeyHex, ivHex string
	n, err := fmt.Sscanf(enc, "%s\n%s\n%s\n%s", &saltHex, &passHashHex,
		&encKeyHex, &ivHex)
	if err != nil {
		return nil, err
	}
	if n != 4 {
		return nil, errors.New("malformed key file")
	}

	salt, err := decodeHexString(saltHex)
	if err != nil {
		return nil, err
	}
	passHash, err := decodeHexString(passHashHex)
	if err != nil {
		return nil, err
	}
	encKey, err := decodeHexString(encKeyHex)
	if err != nil {
		return nil, err
	}
	iv, err := decodeHexString(ivHex)
	if err != nil {
		return nil, err
	}

	// Run the salted passphrase through PBKDF2 to (slowly) generate a
	// 64-byte derived key.
	derived := pbkdf2.Key([]byte(passphrase), salt, 65536, 64, sha256.New)

	// Make sure the first 32 bytes of the derived key match the bytes
	// stored when the key was first generated; if they don't, the user
	// gave us the wrong passphrase.
	if !bytes.Equal(derived[:32], passHash) {
		return nil, ErrWrongPassphrase
	}

	// Use the last 32 bytes of the derived key to decrypt the actual
	// encryption key.
	block, err := aes.NewCipher(derived[32:])
	if err != nil {
		return nil, err
	}
	key := make([]byte, len(encKey))
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(key, encKey)
	return key, nil
}

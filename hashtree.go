package wiidisc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"io"

	"github.com/connesc/cipherio"
)

// cbcTransform runs src through mode (an AES-CBC encrypter or decrypter)
// block by block and fills dst, exactly as large as src. Both encrypt and
// decrypt directions are expressed the same way: feed the source bytes
// through a cipherio.BlockReader and read the transformed bytes back out.
func cbcTransform(dst, src []byte, mode cipher.BlockMode) error {
	r := cipherio.NewBlockReader(bytes.NewReader(src), mode)
	if _, err := io.ReadFull(r, dst); err != nil {
		return newIOError(err)
	}
	return nil
}

func zeroRange(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// hashEncryptGroup computes the H0/H1/H2/H3 hash tree over a decrypted
// group buffer, writes H0/H1/H2 into every block's header, copies the
// resulting H3 digest into h3Slot (if non-nil), and finally encrypts the
// entire group in place: header first with a zero IV, then the data region
// with the IV lifted from the just-encrypted header.
func hashEncryptGroup(cache []byte, h3Slot []byte, key [16]byte) error {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return newIOError(err)
	}

	hasher := sha1.New()
	h2 := make([]byte, 20*8)

	for s := 0; s < 8; s++ {
		subOff := s * 8 * BlockSize
		h1 := make([]byte, 20*8)
		for c := 0; c < 8; c++ {
			blockOff := subOff + c*BlockSize
			h0 := make([]byte, 20*31)
			for j := 0; j < 31; j++ {
				start := blockOff + BlockDataOffset + j*BlockDataOffset
				hasher.Reset()
				hasher.Write(cache[start : start+BlockDataOffset])
				copy(h0[j*20:], hasher.Sum(nil))
			}
			copy(cache[blockOff:], h0)
			zeroRange(cache[blockOff+len(h0) : blockOff+0x280])

			hasher.Reset()
			hasher.Write(h0)
			copy(h1[c*20:], hasher.Sum(nil))
		}

		hasher.Reset()
		hasher.Write(h1)
		copy(h2[s*20:], hasher.Sum(nil))

		for c := 0; c < 8; c++ {
			blockOff := subOff + c*BlockSize
			copy(cache[blockOff+0x280:], h1)
			zeroRange(cache[blockOff+0x320 : blockOff+0x340])
		}
	}

	hasher.Reset()
	hasher.Write(h2)
	h3 := hasher.Sum(nil)
	if h3Slot != nil {
		copy(h3Slot, h3)
	}

	zeroIV := make([]byte, aes.BlockSize)
	for s := 0; s < 8; s++ {
		subOff := s * 8 * BlockSize
		for c := 0; c < 8; c++ {
			blockOff := subOff + c*BlockSize
			copy(cache[blockOff+0x340:], h2)
			zeroRange(cache[blockOff+0x3E0 : blockOff+0x400])

			header := cache[blockOff : blockOff+BlockDataOffset]
			headerPlain := append([]byte(nil), header...)
			if err := cbcTransform(header, headerPlain, cipher.NewCBCEncrypter(block, zeroIV)); err != nil {
				return err
			}

			iv := append([]byte(nil), cache[blockOff+0x3D0:blockOff+0x3E0]...)
			data := cache[blockOff+BlockDataOffset : blockOff+BlockSize]
			dataPlain := append([]byte(nil), data...)
			if err := cbcTransform(data, dataPlain, cipher.NewCBCEncrypter(block, iv)); err != nil {
				return err
			}
		}
	}
	return nil
}

// decryptGroup reverses the encryption half of hashEncryptGroup: data
// region first (IV from the still-encrypted header), then the header
// itself (zero IV). Hash fields are left exactly as they were on disk;
// verifyGroup checks them separately.
func decryptGroup(cache []byte, key [16]byte) error {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return newIOError(err)
	}
	zeroIV := make([]byte, aes.BlockSize)
	for b := 0; b < 64; b++ {
		blockOff := b * BlockSize
		iv := append([]byte(nil), cache[blockOff+0x3D0:blockOff+0x3E0]...)
		data := cache[blockOff+BlockDataOffset : blockOff+BlockSize]
		dataCipher := append([]byte(nil), data...)
		if err := cbcTransform(data, dataCipher, cipher.NewCBCDecrypter(block, iv)); err != nil {
			return err
		}

		header := cache[blockOff : blockOff+BlockDataOffset]
		headerCipher := append([]byte(nil), header...)
		if err := cbcTransform(header, headerCipher, cipher.NewCBCDecrypter(block, zeroIV)); err != nil {
			return err
		}
	}
	return nil
}

// verifyGroup recomputes H0/H1/H2/H3 over an already-decrypted group buffer
// and compares them against the hash fields stored in the blocks and the
// supplied H3 digest, returning a KindHashVerification error naming the
// first mismatching level and index.
func verifyGroup(cache []byte, h3 []byte, group int) error {
	hasher := sha1.New()
	h2 := make([]byte, 20*8)

	for s := 0; s < 8; s++ {
		subOff := s * 8 * BlockSize
		h1 := make([]byte, 20*8)
		for c := 0; c < 8; c++ {
			blockOff := subOff + c*BlockSize
			h0 := make([]byte, 20*31)
			for j := 0; j < 31; j++ {
				start := blockOff + BlockDataOffset + j*BlockDataOffset
				hasher.Reset()
				hasher.Write(cache[start : start+BlockDataOffset])
				copy(h0[j*20:], hasher.Sum(nil))
			}
			if !bytes.Equal(cache[blockOff:blockOff+len(h0)], h0) {
				return newHashVerificationError(HashLevelH0, s*8+c)
			}
			hasher.Reset()
			hasher.Write(h0)
			copy(h1[c*20:], hasher.Sum(nil))
		}
		hasher.Reset()
		hasher.Write(h1)
		copy(h2[s*20:], hasher.Sum(nil))
		for c := 0; c < 8; c++ {
			blockOff := subOff + c*BlockSize
			if !bytes.Equal(cache[blockOff+0x280:blockOff+0x280+len(h1)], h1) {
				return newHashVerificationError(HashLevelH1, s*8+c)
			}
		}
	}

	hasher.Reset()
	hasher.Write(h2)
	sum := hasher.Sum(nil)
	if !bytes.Equal(sum, h3) {
		return newHashVerificationError(HashLevelH3, group)
	}
	for s := 0; s < 8; s++ {
		subOff := s * 8 * BlockSize
		for c := 0; c < 8; c++ {
			blockOff := subOff + c*BlockSize
			if !bytes.Equal(cache[blockOff+0x340:blockOff+0x340+len(h2)], h2) {
				return newHashVerificationError(HashLevelH2, s*8+c)
			}
		}
	}
	return nil
}

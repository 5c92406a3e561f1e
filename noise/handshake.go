// Package noise provides the transport-level pairing handshake for localshare.
// It implements the Noise NNpsk0 pattern keyed by a short pairing code, so only
// clients that know the code shown next to the QR code can join the room.
package noise

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrHandshakeNotComplete indicates handshake is still in progress
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrInvalidMessage indicates received message is invalid for current state
	ErrInvalidMessage = errors.New("invalid message for current handshake state")
	// ErrHandshakeComplete indicates handshake is already complete
	ErrHandshakeComplete = errors.New("handshake already complete")
	// ErrEmptyPairingCode indicates no pairing code was supplied
	ErrEmptyPairingCode = errors.New("pairing code is empty")
)

// PSKSize is the length of the pre-shared key mixed into the handshake.
const PSKSize = 32

// pskSalt domain-separates pairing keys from any other use of the code.
const pskSalt = "localshare-pairing-v1"

// HandshakeRole defines whether we're initiating or responding to handshake
type HandshakeRole uint8

const (
	// Initiator starts the handshake (the connecting client)
	Initiator HandshakeRole = iota
	// Responder responds to handshake initiation (the server)
	Responder
)

// DerivePSK stretches a human pairing code into a 32-byte pre-shared key.
func DerivePSK(code string) ([]byte, error) {
	if code == "" {
		return nil, ErrEmptyPairingCode
	}

	psk := make([]byte, PSKSize)
	kdf := hkdf.New(sha256.New, []byte(code), []byte(pskSalt), []byte("psk"))
	if _, err := io.ReadFull(kdf, psk); err != nil {
		return nil, fmt.Errorf("failed to derive pairing key: %w", err)
	}
	return psk, nil
}

// PairingHandshake runs one NNpsk0 exchange:
//
//	-> psk, e
//	<- e, ee
//
// After the second message both sides hold a pair of cipher states.
type PairingHandshake struct {
	role       HandshakeRole
	state      *noise.HandshakeState
	sendCipher *noise.CipherState
	recvCipher *noise.CipherState
	complete   bool
}

// NewPairingHandshake creates a handshake for the given role keyed by psk.
func NewPairingHandshake(psk []byte, role HandshakeRole) (*PairingHandshake, error) {
	if len(psk) != PSKSize {
		return nil, fmt.Errorf("pairing key must be %d bytes, got %d", PSKSize, len(psk))
	}

	cipherSuite := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
	state, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:           cipherSuite,
		Random:                rand.Reader,
		Pattern:               noise.HandshakeNN,
		Initiator:             role == Initiator,
		PresharedKey:          psk,
		PresharedKeyPlacement: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	return &PairingHandshake{role: role, state: state}, nil
}

// Initiate produces the initiator's first message.
func (h *PairingHandshake) Initiate() ([]byte, error) {
	if h.complete {
		return nil, ErrHandshakeComplete
	}
	if h.role != Initiator {
		return nil, fmt.Errorf("%w: responder cannot initiate", ErrInvalidMessage)
	}

	message, _, _, err := h.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("initiator write failed: %w", err)
	}
	return message, nil
}

// Respond consumes the initiator's message and returns the reply. The
// responder is complete once Respond returns without error.
func (h *PairingHandshake) Respond(received []byte) ([]byte, error) {
	if h.complete {
		return nil, ErrHandshakeComplete
	}
	if h.role != Responder {
		return nil, fmt.Errorf("%w: initiator cannot respond", ErrInvalidMessage)
	}
	if len(received) == 0 {
		return nil, ErrInvalidMessage
	}

	if _, _, _, err := h.state.ReadMessage(nil, received); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Respond",
			"error":    err.Error(),
		}).Debug("Pairing message rejected")
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	message, initToResp, respToInit, err := h.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("responder write failed: %w", err)
	}

	h.sendCipher = respToInit
	h.recvCipher = initToResp
	h.complete = true
	return message, nil
}

// Finish consumes the responder's reply on the initiator side.
func (h *PairingHandshake) Finish(received []byte) error {
	if h.complete {
		return ErrHandshakeComplete
	}
	if h.role != Initiator {
		return fmt.Errorf("%w: responder cannot finish", ErrInvalidMessage)
	}
	if len(received) == 0 {
		return ErrInvalidMessage
	}

	_, initToResp, respToInit, err := h.state.ReadMessage(nil, received)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	h.sendCipher = initToResp
	h.recvCipher = respToInit
	h.complete = true
	return nil
}

// IsComplete reports whether both handshake messages were processed.
func (h *PairingHandshake) IsComplete() bool {
	return h.complete
}

// Ciphers returns the send and receive cipher states.
func (h *PairingHandshake) Ciphers() (send, recv *noise.CipherState, err error) {
	if !h.complete {
		return nil, nil, ErrHandshakeNotComplete
	}
	return h.sendCipher, h.recvCipher, nil
}

// Package noise implements transport-level pairing for localshare using the
// Noise Protocol Framework (github.com/flynn/noise).
//
// The server shows a pairing code next to its QR code. Both sides derive a
// 32-byte pre-shared key from it with HKDF-SHA256 and run the NNpsk0 pattern.
// A peer with the wrong code fails the first message; a peer with the right
// code ends up with ChaCha20-Poly1305 cipher states that seal every later frame.
//
//	psk, _ := noise.DerivePSK("483-921")
//	client, _ := noise.NewPairingHandshake(psk, noise.Initiator)
//	server, _ := noise.NewPairingHandshake(psk, noise.Responder)
//
//	m1, _ := client.Initiate()
//	m2, _ := server.Respond(m1)
//	_ = client.Finish(m2)
//
// There is no identity beyond knowledge of the code; the handshake gives
// confidentiality on the LAN and keeps unpaired devices out of the room.
package noise

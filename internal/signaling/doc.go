// Package signaling implements the rendezvous relay that pairs WebRTC senders
// with receivers and moves their offer/answer messages between them.
//
// Peers connect over WebSocket to GET /sender or GET /receiver. Each
// connection is registered under a relay-assigned id, and a receiver is told
// about every sender that is live when it connects. From then on the relay
// only forwards request_offer, offer and answer messages to the peer named in
// them; media never passes through it.
package signaling

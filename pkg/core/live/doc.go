// Package live manages the single bidirectional session with the remote
// inference service that listens to the call and returns structured analysis.
//
// # Architecture
//
//   - Manager: owns the connection state machine, the one-time instruction
//     handshake, outbound lanes and inbound classification
//   - Dialer/Conn: the transport seam. WebSocketDialer speaks the raw JSON
//     protocol; GenAIDialer goes through the genai SDK
//   - BuildInstruction / ParseAnalysis: the output-format contract in both
//     directions
//
// # State Machine
//
//	Disconnected → Connecting → Open → Closing → Disconnected
//	                   │          │
//	                   └──→ Error ←┘ ──→ Disconnected
//
// Frames and text are only accepted in Open. The Manager never reconnects on
// its own: a dropped connection is reported as a ClosedEvent and the caller
// decides whether to start again.
//
// # Data Flow
//
//	Framer → SendAudio → audio lane ─┐
//	SendText / EndAudio → priority ──┴→ writer → Conn
//	Conn → readLoop → TranscriptEvent | AnalysisEvent | TurnCompleteEvent
package live

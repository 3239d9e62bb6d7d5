package entities

// FrameRecord is a persisted video frame. Sequence is assigned by the server
// when the frame is accepted and never changes afterwards.
type FrameRecord struct {
	Sequence  int64  `cbor:"1,keyasint" json:"sequence"`
	Timestamp int64  `cbor:"2,keyasint" json:"timestamp"`
	Size      int64  `cbor:"3,keyasint" json:"size"`
	Path      string `cbor:"4,keyasint" json:"path"`
	Format    string `cbor:"5,keyasint" json:"format"`
	Digest    []byte `cbor:"6,keyasint,omitempty" json:"digest,omitempty"`
}

// AudioRecord is a persisted audio chunk ordered by the sender's index.
type AudioRecord struct {
	Index     int    `cbor:"1,keyasint" json:"index"`
	Timestamp int64  `cbor:"2,keyasint" json:"timestamp"`
	Size      int64  `cbor:"3,keyasint" json:"size"`
	Path      string `cbor:"4,keyasint" json:"path"`
}

package service

import (
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"recording-ingest/entities"
)

const journalFile = "manifest.cbor.zst"

// Journal is the on-disk record of what a session actually captured. It is
// written whenever a stop finishes, successfully or not, so a failed session
// can be inspected after the process is gone.
type Journal struct {
	RecordingID string                 `cbor:"1,keyasint"`
	RoomID      string                 `cbor:"2,keyasint"`
	Status      string                 `cbor:"3,keyasint"`
	Error       string                 `cbor:"4,keyasint,omitempty"`
	WrittenAt   time.Time              `cbor:"5,keyasint"`
	Frames      []entities.FrameRecord `cbor:"6,keyasint"`
	Audio       []entities.AudioRecord `cbor:"7,keyasint"`
}

var journalEncMode cbor.EncMode

func init() {
	var err error
	journalEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("journal: CBOR encoder initialization failed: " + err.Error())
	}
}

func WriteJournal(path string, journal Journal) error {
	raw, err := journalEncMode.Marshal(journal)
	if err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	defer enc.Close()

	return writeFileAtomic(path, enc.EncodeAll(raw, nil))
}

func ReadJournal(path string) (*Journal, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress journal: %w", err)
	}

	var journal Journal
	if err := cbor.Unmarshal(raw, &journal); err != nil {
		return nil, fmt.Errorf("decode journal: %w", err)
	}
	return &journal, nil
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"recording-ingest/dto"
	"recording-ingest/service"
)

func collect() (Reply, <-chan dto.Response) {
	ch := make(chan dto.Response, 16)
	return func(resp dto.Response) { ch <- resp }, ch
}

func next(t *testing.T, ch <-chan dto.Response) dto.Response {
	t.Helper()
	select {
	case resp := <-ch:
		return resp
	case <-time.After(time.Second):
		t.Fatal("no response")
		return dto.Response{}
	}
}

func message(t *testing.T, id, msgType string, payload any) []byte {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(map[string]any{"id": id, "type": msgType, "payload": json.RawMessage(body)})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestDispatchStart(t *testing.T) {
	ch := NewChannel(&stubService{})
	reply, responses := collect()

	ch.Dispatch(context.Background(), message(t, "1", "start", dto.StartRecordingRequest{RoomID: "room-1", UserID: "u"}), reply)
	resp := next(t, responses)
	if resp.ID != "1" || !resp.Success {
		t.Fatalf("response = %+v", resp)
	}
	var data dto.StartRecordingResponse
	if err := json.Unmarshal(resp.Data, &data); err != nil || data.RecordingID != "rec-room-1" {
		t.Fatalf("data = %s, %v", resp.Data, err)
	}

	ch.Dispatch(context.Background(), message(t, "2", "start", dto.StartRecordingRequest{RoomID: "busy", UserID: "u"}), reply)
	resp = next(t, responses)
	if resp.ID != "2" || resp.Success || !strings.Contains(resp.Error, "busy") {
		t.Fatalf("response = %+v", resp)
	}
}

func TestDispatchRejectsUnknownAndMalformed(t *testing.T) {
	ch := NewChannel(&stubService{})
	reply, responses := collect()

	ch.Dispatch(context.Background(), []byte("{not json"), reply)
	if resp := next(t, responses); resp.Success || !strings.Contains(resp.Error, service.ErrValidation.Error()) {
		t.Fatalf("malformed: %+v", resp)
	}

	ch.Dispatch(context.Background(), message(t, "3", "rewind", map[string]string{}), reply)
	if resp := next(t, responses); resp.ID != "3" || resp.Success || !strings.Contains(resp.Error, "unknown message type") {
		t.Fatalf("unknown type: %+v", resp)
	}

	ch.Dispatch(context.Background(), []byte(`{"id":"4","type":"stop"}`), reply)
	if resp := next(t, responses); resp.ID != "4" || resp.Success {
		t.Fatalf("missing payload: %+v", resp)
	}

	ch.Dispatch(context.Background(), []byte(`{"type":"status","payload":{}}`), reply)
	if resp := next(t, responses); resp.Success {
		t.Fatalf("missing id: %+v", resp)
	}
}

func TestDispatchFrameIsAsynchronous(t *testing.T) {
	svc := &stubService{release: make(chan struct{})}
	ch := NewChannel(svc)
	reply, responses := collect()

	done := make(chan struct{})
	go func() {
		ch.Dispatch(context.Background(), message(t, "5", "frame", dto.FrameRequest{RoomID: "room-1", Data: []byte{0xff, 0xd8, 0xff}}), reply)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on the frame write")
	}

	select {
	case resp := <-responses:
		t.Fatalf("frame answered before the write finished: %+v", resp)
	default:
	}
	close(svc.release)

	resp := next(t, responses)
	var ack dto.FrameAck
	if !resp.Success || json.Unmarshal(resp.Data, &ack) != nil || ack.FramesWritten != 1 {
		t.Fatalf("frame ack = %+v", resp)
	}
}

func TestDispatchFrameFailure(t *testing.T) {
	svc := &stubService{frameErr: errors.New("disk full")}
	ch := NewChannel(svc)
	reply, responses := collect()

	ch.Dispatch(context.Background(), message(t, "6", "frame", dto.FrameRequest{RoomID: "room-1"}), reply)
	if resp := next(t, responses); resp.Success || resp.Error != "disk full" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestDispatchControlAndStatus(t *testing.T) {
	svc := &stubService{status: recordingStatus}
	ch := NewChannel(svc)
	reply, responses := collect()

	ch.Dispatch(context.Background(), message(t, "7", "pause", dto.RoomRequest{RoomID: "room-1"}), reply)
	if resp := next(t, responses); !resp.Success {
		t.Fatalf("pause: %+v", resp)
	}
	ch.Dispatch(context.Background(), message(t, "8", "resume", dto.RoomRequest{RoomID: "room-1"}), reply)
	if resp := next(t, responses); resp.Success {
		t.Fatalf("resume: %+v", resp)
	}
	ch.Dispatch(context.Background(), message(t, "9", "audio", dto.AudioChunkRequest{RoomID: "room-1", Index: 0}), reply)
	if resp := next(t, responses); !resp.Success {
		t.Fatalf("audio: %+v", resp)
	}
	ch.Dispatch(context.Background(), message(t, "10", "stop", dto.StopRequest{RoomID: "room-1"}), reply)
	resp := next(t, responses)
	var stop dto.StopResponse
	if !resp.Success || json.Unmarshal(resp.Data, &stop) != nil || stop.ArtifactURL == "" {
		t.Fatalf("stop: %+v", resp)
	}

	ch.Dispatch(context.Background(), message(t, "11", "status", dto.RoomRequest{RoomID: "room-1"}), reply)
	resp = next(t, responses)
	var status dto.StatusResponse
	if !resp.Success || json.Unmarshal(resp.Data, &status) != nil || status.RecordingID != "rec-1" {
		t.Fatalf("status: %+v", resp)
	}
}

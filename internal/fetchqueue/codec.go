package fetchqueue

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"
)

/*
Wire format

A fixed field layout rather than a reflection-heavy encoder: every
string is a uint32 length prefix followed by its UTF-8 bytes, every
number is fixed-width big-endian.

  url          string
  final_url    string
  domain       string
  depth        int32
  status_code  int32
  content_type string
  content_bytes int64
  fetched_at   int64 (unix nanoseconds)
  body         bytes (uint32 length prefix, raw bytes)
*/

// Encode serializes rec to the fetch queue's binary wire format.
func Encode(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeString(&buf, rec.URL); err != nil {
		return nil, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseEncodeFailure}
	}
	if err := writeString(&buf, rec.FinalURL); err != nil {
		return nil, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseEncodeFailure}
	}
	if err := writeString(&buf, rec.Domain); err != nil {
		return nil, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseEncodeFailure}
	}
	if err := binary.Write(&buf, binary.BigEndian, int32(rec.Depth)); err != nil {
		return nil, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseEncodeFailure}
	}
	if err := binary.Write(&buf, binary.BigEndian, int32(rec.StatusCode)); err != nil {
		return nil, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseEncodeFailure}
	}
	if err := writeString(&buf, rec.ContentType); err != nil {
		return nil, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseEncodeFailure}
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ContentBytes); err != nil {
		return nil, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseEncodeFailure}
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.FetchedAt.UnixNano()); err != nil {
		return nil, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseEncodeFailure}
	}
	if err := writeBytes(&buf, rec.Body); err != nil {
		return nil, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseEncodeFailure}
	}
	return buf.Bytes(), nil
}

// Decode parses raw back into a Record. It is the inverse of Encode.
func Decode(raw []byte) (Record, error) {
	r := bytes.NewReader(raw)
	var rec Record
	var err error

	if rec.URL, err = readString(r); err != nil {
		return Record{}, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseDecodeFailure}
	}
	if rec.FinalURL, err = readString(r); err != nil {
		return Record{}, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseDecodeFailure}
	}
	if rec.Domain, err = readString(r); err != nil {
		return Record{}, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseDecodeFailure}
	}
	var depth, status int32
	if err := binary.Read(r, binary.BigEndian, &depth); err != nil {
		return Record{}, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseDecodeFailure}
	}
	rec.Depth = int(depth)
	if err := binary.Read(r, binary.BigEndian, &status); err != nil {
		return Record{}, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseDecodeFailure}
	}
	rec.StatusCode = int(status)
	if rec.ContentType, err = readString(r); err != nil {
		return Record{}, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseDecodeFailure}
	}
	if err := binary.Read(r, binary.BigEndian, &rec.ContentBytes); err != nil {
		return Record{}, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseDecodeFailure}
	}
	var fetchedAtNano int64
	if err := binary.Read(r, binary.BigEndian, &fetchedAtNano); err != nil {
		return Record{}, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseDecodeFailure}
	}
	rec.FetchedAt = time.Unix(0, fetchedAtNano).UTC()

	if rec.Body, err = readBytes(r); err != nil {
		return Record{}, &FetchQueueError{Message: err.Error(), Retryable: false, Cause: ErrCauseDecodeFailure}
	}

	return rec, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := buf.Write(b)
	return err
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

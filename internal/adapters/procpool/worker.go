package procpool

import (
	"context"
	"encoding/gob"
	"errors"
	"io"

	"github.com/lumenview/lumen/internal/adapters/decoder"
	"github.com/lumenview/lumen/internal/core/domain"
)

// RunWorker serves decode requests from r and writes responses to w until
// r reaches EOF. It is the body of the hidden `lumen worker` subcommand:
// the parent owns both pipes, so the loop dies with the parent.
func RunWorker(r io.Reader, w io.Writer) error {
	dec := gob.NewDecoder(r)
	enc := gob.NewEncoder(w)
	d := decoder.New()

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}

		resp := response{ID: req.ID}
		decoded, err := d.Decode(context.Background(), req.Path, req.TargetW, req.TargetH)
		if err != nil {
			resp.ErrKind, resp.ErrMsg = classify(err)
		} else {
			resp.Data = decoded.Data
			resp.Width = decoded.Width
			resp.Height = decoded.Height
		}

		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
}

func classify(err error) (errKind, string) {
	switch {
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return errUnsupported, err.Error()
	case errors.Is(err, domain.ErrCorruptImage):
		return errCorrupt, err.Error()
	default:
		return errOther, err.Error()
	}
}

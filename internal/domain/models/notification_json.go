package models

import (
	"strconv"

	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// MarshalEasyJSON writes {"symbol","timeframe","timestamp"}.
func (n UpdateNotification) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"symbol":`)
	w.String(n.Symbol)
	w.RawString(`,"timeframe":`)
	w.String(n.Timeframe)
	w.RawString(`,"timestamp":`)
	w.String(n.Timestamp)
	w.RawByte('}')
}

// UnmarshalEasyJSON accepts the timestamp as text or as a number, since
// producers disagree on its encoding. Unknown fields are skipped.
func (n *UpdateNotification) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "symbol":
			n.Symbol = in.String()
		case "timeframe", "tf":
			n.Timeframe = in.String()
		case "timestamp":
			switch v := in.Interface().(type) {
			case string:
				n.Timestamp = v
			case float64:
				n.Timestamp = strconv.FormatFloat(v, 'f', -1, 64)
			}
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
}

func (n UpdateNotification) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	n.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

func (n *UpdateNotification) UnmarshalJSON(data []byte) error {
	r := jlexer.Lexer{Data: data}
	n.UnmarshalEasyJSON(&r)
	return r.Error()
}

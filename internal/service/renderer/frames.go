package renderer

import (
	"ChartSync/internal/domain/models"

	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// Outbound frame types.
const (
	FrameBuffer   = "buffer"
	FrameSpacing  = "spacing"
	FrameState    = "state"
	FrameDecision = "decision"
	FrameError    = "error"
)

// Inbound message types.
const (
	MsgZoom         = "zoom"
	MsgVisibleRange = "visible_range"
	MsgTimeframe    = "timeframe"
	MsgLock         = "lock"
)

// Frame is one server-to-client message. Only the fields that belong to
// Type are written.
type Frame struct {
	Type       string
	Candles    []models.Candle
	BarSpacing float64
	Symbol     string
	Timeframe  string
	Locked     bool
	Decision   string
	From       string
	To         string
	Code       string
	Message    string
}

func (f Frame) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"type":`)
	w.String(f.Type)
	switch f.Type {
	case FrameBuffer:
		w.RawString(`,"candles":`)
		writeCandles(w, f.Candles)
	case FrameSpacing:
		w.RawString(`,"bar_spacing":`)
		w.Float64(f.BarSpacing)
	case FrameState:
		w.RawString(`,"symbol":`)
		w.String(f.Symbol)
		w.RawString(`,"timeframe":`)
		w.String(f.Timeframe)
		w.RawString(`,"locked":`)
		w.Bool(f.Locked)
		w.RawString(`,"bar_spacing":`)
		w.Float64(f.BarSpacing)
	case FrameDecision:
		w.RawString(`,"decision":`)
		w.String(f.Decision)
		w.RawString(`,"from":`)
		w.String(f.From)
		w.RawString(`,"to":`)
		w.String(f.To)
		w.RawString(`,"bar_spacing":`)
		w.Float64(f.BarSpacing)
	case FrameError:
		w.RawString(`,"code":`)
		w.String(f.Code)
		w.RawString(`,"message":`)
		w.String(f.Message)
	}
	w.RawByte('}')
}

func writeCandles(w *jwriter.Writer, candles []models.Candle) {
	w.RawByte('[')
	for i, c := range candles {
		if i > 0 {
			w.RawByte(',')
		}
		w.RawString(`{"time":`)
		w.Int64(c.Time)
		w.RawString(`,"open":`)
		w.Float64(c.Open)
		w.RawString(`,"high":`)
		w.Float64(c.High)
		w.RawString(`,"low":`)
		w.Float64(c.Low)
		w.RawString(`,"close":`)
		w.Float64(c.Close)
		w.RawByte('}')
	}
	w.RawByte(']')
}

// encode renders a frame; jwriter never fails on these field types.
func encode(f Frame) []byte {
	w := jwriter.Writer{}
	f.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes()
}

// ClientMessage is one client-to-server message.
type ClientMessage struct {
	Type       string
	BarSpacing float64
	From       int64
	To         int64
	Timeframe  string
	Locked     bool
}

func (m *ClientMessage) UnmarshalEasyJSON(in *jlexer.Lexer) {
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
		case "type":
			m.Type = in.String()
		case "bar_spacing":
			m.BarSpacing = in.Float64()
		case "from":
			m.From = in.Int64()
		case "to":
			m.To = in.Int64()
		case "timeframe", "tf":
			m.Timeframe = in.String()
		case "locked":
			m.Locked = in.Bool()
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

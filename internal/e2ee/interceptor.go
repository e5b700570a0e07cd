package e2ee

import (
	"errors"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

// InterceptorFactory plugs a Codec into a pion interceptor registry so
// every RTP stream of a peer connection is encrypted on send and
// decrypted on receive.
type InterceptorFactory struct {
	codec *Codec
}

func NewInterceptorFactory(codec *Codec) *InterceptorFactory {
	return &InterceptorFactory{codec: codec}
}

func (f *InterceptorFactory) NewInterceptor(_ string) (interceptor.Interceptor, error) {
	return &frameInterceptor{codec: f.codec}, nil
}

type frameInterceptor struct {
	interceptor.NoOp
	codec *Codec
}

func (i *frameInterceptor) BindLocalStream(info *interceptor.StreamInfo, writer interceptor.RTPWriter) interceptor.RTPWriter {
	return interceptor.RTPWriterFunc(func(header *rtp.Header, payload []byte, attrs interceptor.Attributes) (int, error) {
		key := i.codec.Key()
		if key == nil {
			return writer.Write(header, payload, attrs)
		}
		sealed, err := EncodeFrame(payload, key)
		if err != nil {
			return 0, err
		}
		h := *header
		h.Padding = false
		h.PaddingSize = 0
		return writer.Write(&h, sealed, attrs)
	})
}

func (i *frameInterceptor) BindRemoteStream(info *interceptor.StreamInfo, reader interceptor.RTPReader) interceptor.RTPReader {
	return interceptor.RTPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		for {
			n, attrs, err := reader.Read(b, a)
			if err != nil {
				return n, attrs, err
			}
			m, err := i.open(b, n)
			if errors.Is(err, ErrDecodeFailure) {
				// undecodable packets are dropped, the stream goes on
				log.Debug().Str("module", "e2ee").Uint32("ssrc", info.SSRC).Msg("dropped undecodable packet")
				continue
			}
			if err != nil {
				return 0, attrs, err
			}
			return m, attrs, nil
		}
	})
}

// open decrypts the RTP packet held in b[:n] in place.
func (i *frameInterceptor) open(b []byte, n int) (int, error) {
	key := i.codec.Key()
	if key == nil {
		return n, nil
	}
	var pkt rtp.Packet
	if err := pkt.Unmarshal(b[:n]); err != nil {
		return 0, ErrDecodeFailure
	}
	plain, err := DecodeFrame(pkt.Payload, key)
	if err != nil {
		return 0, err
	}
	out := rtp.Packet{Header: pkt.Header, Payload: plain}
	out.Header.Padding = false
	out.Header.PaddingSize = 0
	return out.MarshalTo(b)
}

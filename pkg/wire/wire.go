// Package wire defines the Parla voice streaming protocol: one bidirectional
// gRPC method, StreamAudio, carrying a single request from the client followed
// by a stream of tagged-union responses from the server.
//
// The message types are hand-written Go structs exchanged through a JSON codec
// registered with the gRPC runtime; the service descriptor and typed stream
// wrappers below mirror the shape protoc would generate, so both halves of
// the system program against the familiar grpc surface.
package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "parla.v1.VoiceService"

// streamAudioMethod is the full method path of the StreamAudio RPC.
const streamAudioMethod = "/" + ServiceName + "/StreamAudio"

// MaxPromptBytes caps the inbound prompt size.
const MaxPromptBytes = 4 << 10

// CodecName is the content-subtype under which the wire codec is registered.
const CodecName = "parla-json"

func init() {
	encoding.RegisterCodec(codec{})
}

// codec is the JSON encoding used for all StreamAudio messages.
type codec struct{}

func (codec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (codec) Name() string                       { return CodecName }

// ─── Messages ────────────────────────────────────────────────────────────────

// ScreenInfo carries the client's screen dimensions alongside a screenshot.
type ScreenInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// StreamRequest is the single inbound message of a StreamAudio call. The
// client half-closes immediately after sending it.
type StreamRequest struct {
	// Prompt is the recognised user utterance. Required, UTF-8, ≤4 KiB.
	Prompt string `json:"prompt"`

	// HardwareID is the stable installation identifier. Required; keys
	// per-user memory and the interrupt registry.
	HardwareID string `json:"hardware_id"`

	// ScreenshotBase64 is an optional base64-encoded JPEG of the screen.
	ScreenshotBase64 string `json:"screenshot_base64,omitempty"`

	// ScreenInfo optionally describes the screenshot dimensions.
	ScreenInfo *ScreenInfo `json:"screen_info,omitempty"`

	// Interrupt, when true, marks this message as an explicit interrupt
	// control message: the server marks HardwareID in its interrupt registry
	// and ends the stream without processing.
	Interrupt bool `json:"interrupt,omitempty"`
}

// Validate checks the request against the protocol limits.
func (r *StreamRequest) Validate() error {
	var errs []error
	if r.HardwareID == "" {
		errs = append(errs, errors.New("hardware_id is required"))
	}
	if !r.Interrupt && r.Prompt == "" {
		errs = append(errs, errors.New("prompt is required"))
	}
	if len(r.Prompt) > MaxPromptBytes {
		errs = append(errs, fmt.Errorf("prompt exceeds %d bytes", MaxPromptBytes))
	}
	return errors.Join(errs...)
}

// AudioChunk is one PCM payload of the outbound stream. Chunk order within
// the stream is the playback order; chunk_index is implicit in arrival order.
type AudioChunk struct {
	// DType is the sample encoding: "int16" or "float32".
	DType string `json:"dtype"`

	// Shape is the sample layout, row-major (samples, channels).
	Shape []int `json:"shape"`

	// AudioData is the raw little-endian PCM payload.
	AudioData []byte `json:"audio_data"`
}

// StreamResponse is one outbound message. Exactly one field is set.
type StreamResponse struct {
	TextChunk    *string     `json:"text_chunk,omitempty"`
	AudioChunk   *AudioChunk `json:"audio_chunk,omitempty"`
	EndMessage   *string     `json:"end_message,omitempty"`
	ErrorMessage *string     `json:"error_message,omitempty"`
}

// NewTextChunk builds a text_chunk response.
func NewTextChunk(text string) *StreamResponse {
	return &StreamResponse{TextChunk: &text}
}

// NewAudioChunk builds an audio_chunk response.
func NewAudioChunk(dtype string, shape []int, data []byte) *StreamResponse {
	return &StreamResponse{AudioChunk: &AudioChunk{DType: dtype, Shape: shape, AudioData: data}}
}

// NewEndMessage builds the success terminator.
func NewEndMessage(msg string) *StreamResponse {
	return &StreamResponse{EndMessage: &msg}
}

// NewErrorMessage builds the failure terminator.
func NewErrorMessage(msg string) *StreamResponse {
	return &StreamResponse{ErrorMessage: &msg}
}

// ─── Server ──────────────────────────────────────────────────────────────────

// VoiceServiceServer is the server API for the VoiceService.
type VoiceServiceServer interface {
	// StreamAudio handles one voice interaction: exactly one StreamRequest
	// followed by client half-close; the server replies with zero or more
	// responses terminated by an end_message or error_message.
	StreamAudio(VoiceService_StreamAudioServer) error
}

// UnimplementedVoiceServiceServer provides forward-compatible default
// implementations.
type UnimplementedVoiceServiceServer struct{}

// StreamAudio returns an unimplemented error.
func (UnimplementedVoiceServiceServer) StreamAudio(VoiceService_StreamAudioServer) error {
	return errors.New("method StreamAudio not implemented")
}

// VoiceService_StreamAudioServer is the server-side stream handle.
type VoiceService_StreamAudioServer interface {
	Send(*StreamResponse) error
	Recv() (*StreamRequest, error)
	grpc.ServerStream
}

type voiceServiceStreamAudioServer struct {
	grpc.ServerStream
}

func (s *voiceServiceStreamAudioServer) Send(m *StreamResponse) error {
	return s.ServerStream.SendMsg(m)
}

func (s *voiceServiceStreamAudioServer) Recv() (*StreamRequest, error) {
	m := new(StreamRequest)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func streamAudioHandler(srv any, stream grpc.ServerStream) error {
	return srv.(VoiceServiceServer).StreamAudio(&voiceServiceStreamAudioServer{stream})
}

// ServiceDesc is the grpc.ServiceDesc for VoiceService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VoiceServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamAudio",
			Handler:       streamAudioHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "parla/v1/voice.proto",
}

// RegisterVoiceServiceServer registers srv on the given gRPC registrar.
func RegisterVoiceServiceServer(s grpc.ServiceRegistrar, srv VoiceServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ─── Client ──────────────────────────────────────────────────────────────────

// VoiceServiceClient is the client API for the VoiceService.
type VoiceServiceClient interface {
	StreamAudio(ctx context.Context, opts ...grpc.CallOption) (VoiceService_StreamAudioClient, error)
}

// VoiceService_StreamAudioClient is the client-side stream handle.
type VoiceService_StreamAudioClient interface {
	Send(*StreamRequest) error
	Recv() (*StreamResponse, error)
	grpc.ClientStream
}

type voiceServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewVoiceServiceClient returns a VoiceServiceClient bound to cc. The wire
// codec is selected automatically on every call.
func NewVoiceServiceClient(cc grpc.ClientConnInterface) VoiceServiceClient {
	return &voiceServiceClient{cc: cc}
}

func (c *voiceServiceClient) StreamAudio(ctx context.Context, opts ...grpc.CallOption) (VoiceService_StreamAudioClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], streamAudioMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &voiceServiceStreamAudioClient{stream}, nil
}

type voiceServiceStreamAudioClient struct {
	grpc.ClientStream
}

func (c *voiceServiceStreamAudioClient) Send(m *StreamRequest) error {
	return c.ClientStream.SendMsg(m)
}

func (c *voiceServiceStreamAudioClient) Recv() (*StreamResponse, error) {
	m := new(StreamResponse)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/ports"
	"meetsync/pkg/config"
	"meetsync/pkg/optimize"
)

var ErrDeviceNotFound = errors.New("device not found")

// localTileID is the tile of the local camera. Remote tiles count up from it.
const localTileID domain.TileID = 1

// rtpBufferSize fits one packet at the usual 1500 byte MTU.
const rtpBufferSize = 1500

type Config struct {
	ICEServers     []webrtc.ICEServer
	AudioInputs    []string
	VideoInputs    []string
	HealthInterval time.Duration
}

type rtcpWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

type remoteTile struct {
	attendee domain.AttendeeID
	ssrc     uint32
}

// Engine is the pion-backed media engine a MeetingSession drives. Remote
// video tracks become tiles keyed by the track's stream id, which peers set
// to their attendee id.
type Engine struct {
	cfg  Config
	self domain.AttendeeID
	sink ports.MediaEventSink

	api *webrtc.API
	pc  *webrtc.PeerConnection
	out rtcpWriter

	audio *webrtc.TrackLocalStaticRTP
	video *webrtc.TrackLocalStaticRTP

	mu           sync.Mutex
	started      bool
	audioMuted   bool
	videoEnabled bool
	audioInput   string
	videoInput   string
	tiles        map[domain.TileID]remoteTile
	byAttendee   map[domain.AttendeeID]domain.TileID
	bound        map[domain.TileID]domain.Placement
	nextTile     domain.TileID

	health  *healthMeter
	buffers *optimize.BytePool
	stop    chan struct{}
	wg      sync.WaitGroup

	now    func() time.Time
	logger *zap.SugaredLogger
}

func NewEngine(cfg Config, self domain.AttendeeID, sink ports.MediaEventSink, logger *zap.SugaredLogger) *Engine {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 2 * time.Second
	}
	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		logger.Warnw("failed to register default codecs", "error", err)
	}
	e := &Engine{
		cfg:          cfg,
		self:         self,
		sink:         sink,
		api:          webrtc.NewAPI(webrtc.WithMediaEngine(media)),
		buffers:      optimize.NewBytePool(rtpBufferSize),
		videoEnabled: true,
		tiles:        make(map[domain.TileID]remoteTile),
		byAttendee:   make(map[domain.AttendeeID]domain.TileID),
		bound:        make(map[domain.TileID]domain.Placement),
		nextTile:     localTileID + 1,
		now:          time.Now,
		logger:       logger,
	}
	if len(cfg.AudioInputs) > 0 {
		e.audioInput = cfg.AudioInputs[0]
	}
	if len(cfg.VideoInputs) > 0 {
		e.videoInput = cfg.VideoInputs[0]
	}
	return e
}

// SetSink must be called before Start when the sink was not known at
// construction.
func (e *Engine) SetSink(sink ports.MediaEventSink) {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}

	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: e.cfg.ICEServers})
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	audio, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", string(e.self))
	if err != nil {
		pc.Close()
		e.mu.Unlock()
		return err
	}
	video, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", string(e.self))
	if err != nil {
		pc.Close()
		e.mu.Unlock()
		return err
	}
	for _, track := range []*webrtc.TrackLocalStaticRTP{audio, video} {
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			e.mu.Unlock()
			return fmt.Errorf("failed to add local track: %w", err)
		}
	}

	pc.OnTrack(e.handleTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.logger.Infow("media connection state changed", "attendee_id", e.self, "state", state.String())
	})

	e.pc, e.out = pc, pc
	e.audio, e.video = audio, video
	e.health = newHealthMeter(e.now())
	e.stop = make(chan struct{})
	e.started = true
	videoOn := e.videoEnabled
	e.mu.Unlock()

	e.wg.Add(1)
	go e.healthLoop()

	e.emitTile(domain.TileState{TileID: localTileID, BoundAttendee: e.self, Local: true, Active: videoOn})
	return nil
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	close(e.stop)
	pc := e.pc
	e.mu.Unlock()

	err := pc.Close()
	e.wg.Wait()
	return err
}

// CreateOffer starts negotiation with a media peer and returns the local
// description once ICE gathering is complete.
func (e *Engine) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	pc, err := e.connection()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	return *pc.LocalDescription(), nil
}

func (e *Engine) AcceptAnswer(answer webrtc.SessionDescription) error {
	pc, err := e.connection()
	if err != nil {
		return err
	}
	return pc.SetRemoteDescription(answer)
}

func (e *Engine) SetLocalAudioMuted(muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return ports.ErrTransportUnavailable
	}
	e.audioMuted = muted
	return nil
}

func (e *Engine) SetLocalVideoEnabled(enabled bool) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ports.ErrTransportUnavailable
	}
	changed := e.videoEnabled != enabled
	e.videoEnabled = enabled
	e.mu.Unlock()

	if changed {
		e.emitTile(domain.TileState{TileID: localTileID, BoundAttendee: e.self, Local: true, Active: enabled})
	}
	return nil
}

func (e *Engine) ChooseAudioInput(ctx context.Context, deviceID string) error {
	if !contains(e.cfg.AudioInputs, deviceID) {
		return fmt.Errorf("%w: audio input %q", ErrDeviceNotFound, deviceID)
	}
	e.mu.Lock()
	e.audioInput = deviceID
	e.mu.Unlock()
	return nil
}

func (e *Engine) ChooseVideoInput(ctx context.Context, deviceID string) error {
	if !contains(e.cfg.VideoInputs, deviceID) {
		return fmt.Errorf("%w: video input %q", ErrDeviceNotFound, deviceID)
	}
	e.mu.Lock()
	e.videoInput = deviceID
	e.mu.Unlock()
	return nil
}

// Devices returns the selected audio and video inputs.
func (e *Engine) Devices() (audio, video string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.audioInput, e.videoInput
}

// BindTile records where a tile renders. Promoting a remote tile to the
// main stage asks its sender for a keyframe.
func (e *Engine) BindTile(placement domain.Placement) error {
	e.mu.Lock()
	prev, had := e.bound[placement.TileID]
	e.bound[placement.TileID] = placement
	remote, isRemote := e.tiles[placement.TileID]
	out := e.out
	e.mu.Unlock()

	promoted := placement.Slot == domain.SlotMainStage && (!had || prev.Slot != domain.SlotMainStage)
	if !promoted || !isRemote || out == nil {
		return nil
	}
	err := out.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: remote.ssrc}})
	if err != nil {
		e.logger.Debugw("failed to request keyframe", "tile_id", placement.TileID, "error", err)
	}
	return nil
}

func (e *Engine) UnbindTile(tile domain.TileID) error {
	e.mu.Lock()
	delete(e.bound, tile)
	e.mu.Unlock()
	return nil
}

// Placement returns where tile is bound, if anywhere.
func (e *Engine) Placement(tile domain.TileID) (domain.Placement, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.bound[tile]
	return p, ok
}

// WriteLocalRTP sends one packet of local media. Packets of a muted or
// disabled track are dropped.
func (e *Engine) WriteLocalRTP(kind webrtc.RTPCodecType, pkt *rtp.Packet) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ports.ErrTransportUnavailable
	}
	var track *webrtc.TrackLocalStaticRTP
	switch {
	case kind == webrtc.RTPCodecTypeAudio && !e.audioMuted:
		track = e.audio
	case kind == webrtc.RTPCodecTypeVideo && e.videoEnabled:
		track = e.video
	}
	health := e.health
	e.mu.Unlock()

	if track == nil {
		return nil
	}
	if err := track.WriteRTP(pkt); err != nil {
		return err
	}
	health.outbound(pkt.MarshalSize())
	return nil
}

func (e *Engine) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	attendee := domain.AttendeeID(track.StreamID())
	ssrc := uint32(track.SSRC())

	var tile domain.TileID
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		tile = e.addRemoteTile(attendee, ssrc)
	}
	e.logger.Infow("remote track started",
		"attendee_id", attendee,
		"kind", track.Kind().String(),
		"tile_id", tile,
	)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.readTrack(track, ssrc)
		if tile != 0 {
			e.removeRemoteTile(tile)
		}
	}()
}

func (e *Engine) readTrack(track *webrtc.TrackRemote, ssrc uint32) {
	defer e.healthMeter().forget(ssrc)

	buf := e.buffers.Get()
	defer e.buffers.Put(buf)

	var pkt rtp.Packet
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.logger.Debugw("remote track ended", "ssrc", ssrc, "error", err)
			}
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		e.healthMeter().inbound(&pkt, n)
	}
}

func (e *Engine) addRemoteTile(attendee domain.AttendeeID, ssrc uint32) domain.TileID {
	e.mu.Lock()
	tile, ok := e.byAttendee[attendee]
	if !ok {
		tile = e.nextTile
		e.nextTile++
		e.byAttendee[attendee] = tile
	}
	e.tiles[tile] = remoteTile{attendee: attendee, ssrc: ssrc}
	e.mu.Unlock()

	e.emitTile(domain.TileState{TileID: tile, BoundAttendee: attendee, Active: true})
	return tile
}

func (e *Engine) removeRemoteTile(tile domain.TileID) {
	e.mu.Lock()
	remote, ok := e.tiles[tile]
	if ok {
		delete(e.tiles, tile)
		delete(e.byAttendee, remote.attendee)
		delete(e.bound, tile)
	}
	sink := e.sink
	e.mu.Unlock()

	if ok && sink != nil {
		sink.OnTileRemoved(tile)
	}
}

func (e *Engine) healthLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			sample := e.healthMeter().sample(e.now())
			e.mu.Lock()
			sink := e.sink
			e.mu.Unlock()
			if sink != nil {
				sink.OnConnectionHealth(sample)
			}
		}
	}
}

func (e *Engine) healthMeter() *healthMeter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health
}

func (e *Engine) connection() (*webrtc.PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil, ports.ErrTransportUnavailable
	}
	return e.pc, nil
}

func (e *Engine) emitTile(state domain.TileState) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink != nil {
		sink.OnTileUpdate(state)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ConfigFrom maps the webrtc section of the application config.
func ConfigFrom(cfg *config.Config) Config {
	out := Config{
		AudioInputs:    cfg.WebRTC.AudioInputs,
		VideoInputs:    cfg.WebRTC.VideoInputs,
		HealthInterval: cfg.WebRTC.HealthInterval,
	}
	for _, s := range cfg.WebRTC.ICEServers {
		out.ICEServers = append(out.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

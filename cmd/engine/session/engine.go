// Package session implements the orchestrator tying capture, realtime
// speech providers, translation and hint generation together. The engine
// owns the session lifecycle exclusively: callers start and stop it, and
// everything it produces flows out through an EventSink.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/meetscribe/session-engine/cmd/engine/apis/deepgram"
	"github.com/meetscribe/session-engine/cmd/engine/apis/mstranslator"
	"github.com/meetscribe/session-engine/cmd/engine/apis/tingwu"
	"github.com/meetscribe/session-engine/cmd/engine/asr"
	"github.com/meetscribe/session-engine/cmd/engine/audio"
	"github.com/meetscribe/session-engine/cmd/engine/config"
	"github.com/meetscribe/session-engine/cmd/engine/hint"
	"github.com/meetscribe/session-engine/cmd/engine/pcm"
)

const (
	// translationDebounce delays interim translation requests so that a
	// rapidly mutating interim line produces one request, not ten.
	translationDebounce = 350 * time.Millisecond

	translateTimeout      = 10 * time.Second
	hintTimeout           = 30 * time.Second
	clientStopTimeout     = 5 * time.Second
	testConnectionTimeout = 15 * time.Second

	frameChBuffer = 64
)

// Translator is the request/response translation capability used for
// providers that are not coupled to the speech stream.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// HintGenerator streams suggested answers for detected questions.
type HintGenerator interface {
	SuggestStream(ctx context.Context, profileContext, question string, onDelta func(delta string)) error
}

type connectionTester interface {
	TestConnection(ctx context.Context, timeout time.Duration) error
}

// Engine drives one capture/recognition/translation session at a time.
// All lifecycle methods are safe for concurrent use.
type Engine struct {
	sink       EventSink
	httpClient *http.Client

	// Construction seams. Tests swap these for fakes; production code
	// leaves the defaults from NewEngine in place.
	newDeepgramClient func(cfg deepgram.Config) asr.Client
	newTingwuClient   func(cfg tingwu.Config) asr.Client
	newTranslator     func(cfg config.SessionConfig, secrets config.Secrets) (Translator, error)
	newHintGenerator  func(cfg config.SessionConfig, secrets config.Secrets) (HintGenerator, error)
	newMicSource      func(cfg audio.MicConfig, onFrame audio.FrameFunc) audio.Source
	newLoopbackSource func(onFrame audio.FrameFunc) audio.Source

	debounce    time.Duration
	stopTimeout time.Duration

	mut  sync.Mutex
	sess *liveSession

	// epoch increments on every start and stop. Fire-and-forget work
	// (translations, hints, debounce timers) snapshots the epoch and
	// discards its result if the engine has moved on.
	epoch atomic.Uint64

	profMut sync.Mutex
	profile hint.Profile
}

func NewEngine(sink EventSink) *Engine {
	if sink == nil {
		sink = LogSink{}
	}

	e := &Engine{
		sink:        sink,
		httpClient:  &http.Client{},
		debounce:    translationDebounce,
		stopTimeout: clientStopTimeout,
	}

	e.newDeepgramClient = func(cfg deepgram.Config) asr.Client {
		return deepgram.NewClient(cfg)
	}
	e.newTingwuClient = func(cfg tingwu.Config) asr.Client {
		return tingwu.NewClient(cfg, e.httpClient)
	}
	e.newTranslator = func(cfg config.SessionConfig, secrets config.Secrets) (Translator, error) {
		if secrets.TranslatorAPIKey == "" {
			return nil, mstranslator.ErrMissingCredentials
		}
		return mstranslator.NewClient(mstranslator.Config{
			APIKey:   secrets.TranslatorAPIKey,
			Region:   secrets.TranslatorRegion,
			Endpoint: cfg.TranslatorEndpoint,
		}, e.httpClient)
	}
	e.newHintGenerator = func(cfg config.SessionConfig, secrets config.Secrets) (HintGenerator, error) {
		return hint.NewGenerator(hint.GeneratorConfig{
			APIKey:  secrets.HintAPIKey,
			Model:   cfg.HintModel,
			BaseURL: cfg.HintBaseURL,
		})
	}
	e.newMicSource = func(cfg audio.MicConfig, onFrame audio.FrameFunc) audio.Source {
		return audio.NewMicSource(cfg, onFrame)
	}
	e.newLoopbackSource = func(onFrame audio.FrameFunc) audio.Source {
		return audio.NewLoopbackSource(onFrame)
	}

	return e
}

// SetProfile stores the meeting profile rendered into hint prompts. It can
// be changed at any time, including mid-session.
func (e *Engine) SetProfile(p hint.Profile) {
	e.profMut.Lock()
	defer e.profMut.Unlock()
	e.profile = p
}

func (e *Engine) profileContext() string {
	e.profMut.Lock()
	defer e.profMut.Unlock()
	return e.profile.Context()
}

type frameOrigin int

const (
	originLoopback frameOrigin = iota
	originMic
)

type frame struct {
	origin  frameOrigin
	samples []int16
}

type liveSession struct {
	cfg   config.SessionConfig
	epoch uint64

	// mixed is fixed before the dispatch goroutine starts. The dispatch
	// loop must not read the source fields, which are still being
	// assigned while capture backends already deliver frames.
	mixed bool

	// ctx bounds all fire-and-forget work spawned by this session.
	ctx    context.Context
	cancel context.CancelFunc

	primary    asr.Client
	secondary  asr.Client
	translator Translator
	hintGen    HintGenerator

	micSource      audio.Source
	loopbackSource audio.Source

	frames       chan frame
	dispatchDone chan struct{}
	consumersWg  sync.WaitGroup

	route  *routeState
	status RuntimeStatus
}

// Start tears down any running session and brings up a new one from the
// given config and credential snapshot. On failure the engine publishes an
// error status plus a diagnostic message and returns the error; no partial
// session is left behind.
func (e *Engine) Start(ctx context.Context, cfg config.SessionConfig, secrets config.Secrets) error {
	e.mut.Lock()
	defer e.mut.Unlock()

	if e.sess != nil {
		e.stopLocked(true)
	}

	cfg.SetDefaults()

	e.publish(RuntimeStatus{SessionState: StateStarting, PermissionState: PermissionUnknown})

	s, err := e.startLocked(ctx, cfg, secrets)
	if err != nil {
		e.sink.PublishMessage(MessageSessionStartFailed, startDiagnostic(err, cfg, secrets))
		perm := PermissionUnknown
		if errors.Is(err, audio.ErrPermissionDenied) {
			perm = PermissionDenied
		}
		e.publish(RuntimeStatus{SessionState: StateError, PermissionState: perm})
		return err
	}

	e.sess = s
	e.publish(s.status)

	return nil
}

func (e *Engine) startLocked(ctx context.Context, cfg config.SessionConfig, secrets config.Secrets) (retSess *liveSession, retErr error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &liveSession{
		cfg:          cfg,
		epoch:        e.epoch.Add(1),
		mixed:        cfg.AudioSourceMode == config.AudioSourceModeMixed,
		ctx:          sessCtx,
		cancel:       cancel,
		frames:       make(chan frame, frameChBuffer),
		dispatchDone: make(chan struct{}),
		route:        &routeState{},
	}
	go e.dispatchLoop(s)

	defer func() {
		if retErr != nil {
			e.teardown(s)
		}
	}()

	// Credentials and provider reachability come first so that a
	// misconfiguration never opens audio devices.
	provider := cfg.ASRProvider
	primary, err := e.startPrimary(ctx, cfg, secrets, provider)
	if err != nil && provider == asr.ProviderAliyun && secrets.DeepgramAPIKey != "" {
		slog.Warn("primary ASR provider failed to start, falling back",
			slog.String("from", string(provider)),
			slog.String("to", string(asr.ProviderDeepgram)),
			slog.String("err", err.Error()))
		e.sink.PublishMessage(MessageASRFallback,
			fmt.Sprintf("aliyun transcription unavailable (%v), using deepgram", err))
		provider = asr.ProviderDeepgram
		primary, err = e.startPrimary(ctx, cfg, secrets, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start %s client: %w", provider, err)
	}
	s.primary = primary

	wantAliyunTranslation := cfg.TranslationEnabled && cfg.TranslationProvider == config.TranslationProviderAliyun
	if wantAliyunTranslation && provider != asr.ProviderAliyun {
		if !secrets.HasAliyun() {
			return nil, fmt.Errorf("failed to start translation stream: %w", tingwu.ErrMissingCredentials)
		}
		secondary := e.newTingwuClient(tingwuConfig(cfg, secrets, false))
		if err := secondary.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start translation stream: %w", err)
		}
		s.secondary = secondary
	}

	if cfg.TranslationEnabled && cfg.TranslationProvider == config.TranslationProviderMicrosoft {
		translator, err := e.newTranslator(cfg, secrets)
		if err != nil {
			return nil, fmt.Errorf("failed to create translator: %w", err)
		}
		s.translator = translator
	}

	if cfg.HintEnabled {
		gen, err := e.newHintGenerator(cfg, secrets)
		if err != nil {
			// Hints are an auxiliary feature. A missing key degrades them
			// instead of blocking the session.
			slog.Warn("hint generation disabled", slog.String("err", err.Error()))
			e.sink.PublishMessage(MessageHintFailed, fmt.Sprintf("hint generation disabled: %v", err))
		} else {
			s.hintGen = gen
		}
	}

	perm, warning, err := e.startCapture(ctx, s, cfg)
	if err != nil {
		return nil, err
	}

	labels := []string{string(provider)}
	if cfg.TranslationEnabled {
		switch cfg.TranslationProvider {
		case config.TranslationProviderAliyun:
			labels = append(labels, "aliyun_translation")
		case config.TranslationProviderMicrosoft:
			labels = append(labels, "microsoft_translation")
		}
	}

	s.consumersWg.Add(1)
	go e.consumeEvents(s, s.primary, string(provider))
	if s.secondary != nil {
		s.consumersWg.Add(1)
		go e.consumeEvents(s, s.secondary, string(asr.ProviderAliyun))
	}

	s.status = RuntimeStatus{
		SessionState:    StateRunning,
		PermissionState: perm,
		ActiveProviders: labels,
		WarningCode:     warning,
	}

	return s, nil
}

func (e *Engine) startPrimary(ctx context.Context, cfg config.SessionConfig, secrets config.Secrets, provider asr.Provider) (asr.Client, error) {
	var client asr.Client

	switch provider {
	case asr.ProviderDeepgram:
		if secrets.DeepgramAPIKey == "" {
			return nil, deepgram.ErrMissingCredentials
		}
		client = e.newDeepgramClient(deepgram.Config{
			APIKey:      secrets.DeepgramAPIKey,
			Language:    deepgramLanguage(cfg.SourceLanguage),
			SampleRate:  pcm.WireSampleRate,
			Channels:    pcm.WireChannels,
			SmartFormat: true,
		})
	case asr.ProviderAliyun:
		if !secrets.HasAliyun() {
			return nil, tingwu.ErrMissingCredentials
		}
		client = e.newTingwuClient(tingwuConfig(cfg, secrets, true))
	default:
		return nil, fmt.Errorf("unknown ASR provider %q", provider)
	}

	if err := client.Start(ctx); err != nil {
		return nil, err
	}

	return client, nil
}

func tingwuConfig(cfg config.SessionConfig, secrets config.Secrets, captureTranscript bool) tingwu.Config {
	return tingwu.Config{
		AccessKeyID:        secrets.AliyunAccessKeyID,
		AccessKeySecret:    secrets.AliyunAccessKeySecret,
		AppKey:             secrets.AliyunAppKey,
		SourceLanguage:     cfg.SourceLanguage,
		TargetLanguage:     cfg.TargetLanguage,
		SampleRate:         pcm.WireSampleRate,
		CaptureTranscript:  captureTranscript,
		TranslationEnabled: cfg.TranslationEnabled && cfg.TranslationProvider == config.TranslationProviderAliyun,
	}
}

// deepgramLanguage maps the session language codes onto Deepgram's BCP47
// tags. Unknown codes pass through unchanged.
func deepgramLanguage(lang string) string {
	switch lang {
	case "cn":
		return "zh-CN"
	case "yue":
		return "zh-HK"
	case "en":
		return "en-US"
	case "multilingual":
		return "multi"
	default:
		return lang
	}
}

// startCapture opens the audio sources for the configured mode. System
// capture that fails on permissions degrades to the microphone with a
// warning; a secondary failure in mixed mode stops the already running
// loopback before reporting, so no orphaned capture survives a failed start.
func (e *Engine) startCapture(ctx context.Context, s *liveSession, cfg config.SessionConfig) (PermissionState, string, error) {
	micCfg := audio.MicConfig{
		DeviceID:     cfg.MicrophoneID,
		RMSThreshold: cfg.MicRMSThreshold,
	}

	startMic := func() error {
		mic := e.newMicSource(micCfg, e.frameFunc(s, originMic))
		if err := mic.Start(ctx); err != nil {
			return err
		}
		s.micSource = mic
		return nil
	}

	switch cfg.AudioSourceMode {
	case config.AudioSourceModeMicrophone:
		if err := startMic(); err != nil {
			return PermissionUnknown, "", fmt.Errorf("failed to start microphone capture: %w", err)
		}
		return PermissionGranted, "", nil

	case config.AudioSourceModeSystem, config.AudioSourceModeMixed:
		lb := e.newLoopbackSource(e.frameFunc(s, originLoopback))
		if err := lb.Start(ctx); err != nil {
			if !errors.Is(err, audio.ErrPermissionDenied) {
				return PermissionUnknown, "", fmt.Errorf("failed to start system capture: %w", err)
			}
			// No system audio permission. Keep the session alive on the
			// microphone alone and tell the user why.
			slog.Warn("system capture permission denied, falling back to microphone",
				slog.String("mode", string(cfg.AudioSourceMode)))
			if micErr := startMic(); micErr != nil {
				return PermissionDenied, "", fmt.Errorf("failed to start microphone fallback: %w", micErr)
			}
			return PermissionFallbackMic, WarningScreenPermissionFallback, nil
		}
		s.loopbackSource = lb

		if cfg.AudioSourceMode == config.AudioSourceModeMixed {
			if err := startMic(); err != nil {
				lb.Stop()
				s.loopbackSource = nil
				return PermissionGranted, "", fmt.Errorf("failed to start microphone capture: %w", err)
			}
		}
		return PermissionGranted, "", nil
	}

	return PermissionUnknown, "", fmt.Errorf("unknown audio source mode %q", cfg.AudioSourceMode)
}

// Stop tears the current session down, transitioning stopping → idle. It is
// safe to call when nothing is running.
func (e *Engine) Stop() {
	e.mut.Lock()
	defer e.mut.Unlock()
	e.stopLocked(false)
}

func (e *Engine) stopLocked(silent bool) {
	s := e.sess
	if s == nil {
		if !silent {
			e.publish(RuntimeStatus{SessionState: StateIdle, PermissionState: PermissionUnknown})
		}
		return
	}

	if !silent {
		e.publish(RuntimeStatus{
			SessionState:    StateStopping,
			PermissionState: s.status.PermissionState,
			ActiveProviders: s.status.ActiveProviders,
		})
	}

	e.sess = nil
	// Anything still in flight for this session resolves against a stale
	// epoch and is discarded.
	e.epoch.Add(1)
	e.teardown(s)

	if !silent {
		e.publish(RuntimeStatus{SessionState: StateIdle, PermissionState: PermissionUnknown})
	}
}

// teardown stops capture before the providers so no frame arrives after the
// dispatch channel closes, then waits for every session goroutine to exit.
func (e *Engine) teardown(s *liveSession) {
	if s.micSource != nil {
		s.micSource.Stop()
	}
	if s.loopbackSource != nil {
		s.loopbackSource.Stop()
	}

	close(s.frames)
	<-s.dispatchDone

	stopCtx, cancel := context.WithTimeout(context.Background(), e.stopTimeout)
	defer cancel()
	if s.primary != nil {
		if err := s.primary.Stop(stopCtx); err != nil {
			slog.Error("failed to stop ASR client", slog.String("err", err.Error()))
		}
	}
	if s.secondary != nil {
		if err := s.secondary.Stop(stopCtx); err != nil {
			slog.Error("failed to stop translation stream", slog.String("err", err.Error()))
		}
	}

	s.cancel()
	s.route.stopTimer()
	s.consumersWg.Wait()
}

// Status returns the last published runtime status for the live session, or
// an idle status when nothing is running.
func (e *Engine) Status() RuntimeStatus {
	e.mut.Lock()
	defer e.mut.Unlock()
	if e.sess == nil {
		return RuntimeStatus{SessionState: StateIdle, PermissionState: PermissionUnknown}
	}
	return e.sess.status
}

func (e *Engine) publish(status RuntimeStatus) {
	e.sink.PublishStatus(status)
}

// TestConnections probes each provider the given config would use, without
// opening audio devices or starting a session. The returned map has one
// entry per probed provider; a nil value means the probe succeeded.
func (e *Engine) TestConnections(ctx context.Context, cfg config.SessionConfig, secrets config.Secrets) map[string]error {
	cfg.SetDefaults()
	results := make(map[string]error)

	switch cfg.ASRProvider {
	case asr.ProviderDeepgram:
		if secrets.DeepgramAPIKey == "" {
			results["deepgram"] = deepgram.ErrMissingCredentials
		} else {
			c := e.newDeepgramClient(deepgram.Config{
				APIKey:     secrets.DeepgramAPIKey,
				Language:   deepgramLanguage(cfg.SourceLanguage),
				SampleRate: pcm.WireSampleRate,
				Channels:   pcm.WireChannels,
			})
			results["deepgram"] = probeClient(ctx, c)
		}
	case asr.ProviderAliyun:
		if !secrets.HasAliyun() {
			results["aliyun"] = tingwu.ErrMissingCredentials
		} else {
			results["aliyun"] = probeClient(ctx, e.newTingwuClient(tingwuConfig(cfg, secrets, true)))
		}
	}

	if cfg.TranslationEnabled && cfg.TranslationProvider == config.TranslationProviderMicrosoft {
		translator, err := e.newTranslator(cfg, secrets)
		if err != nil {
			results["microsoft_translation"] = err
		} else if tc, ok := translator.(interface {
			TestConnection(ctx context.Context, sourceLang, targetLang string) error
		}); ok {
			results["microsoft_translation"] = tc.TestConnection(ctx, cfg.SourceLanguage, cfg.TargetLanguage)
		}
	}

	return results
}

func probeClient(ctx context.Context, c asr.Client) error {
	tc, ok := c.(connectionTester)
	if !ok {
		return nil
	}
	return tc.TestConnection(ctx, testConnectionTimeout)
}

// startDiagnostic renders a start failure for surfacing to the user. It
// names which credentials were present, never their values.
func startDiagnostic(err error, cfg config.SessionConfig, secrets config.Secrets) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "session start failed: %v", err)
	fmt.Fprintf(&sb, " | provider=%s audioSource=%s translation=%t(%s)",
		cfg.ASRProvider, cfg.AudioSourceMode, cfg.TranslationEnabled, cfg.TranslationProvider)

	presence := secrets.Presence()
	keys := make([]string, 0, len(presence))
	for k := range presence {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteString(" | credentials:")
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%t", k, presence[k])
	}

	var svcErr *tingwu.ServiceError
	if errors.As(err, &svcErr) && svcErr.Suggestion != "" {
		fmt.Fprintf(&sb, " | %s", svcErr.Suggestion)
	}

	return sb.String()
}

// frameFunc is the capture callback for one source. Frames are handed to
// the dispatch goroutine over a bounded channel; when the pipeline is
// saturated the newest frame is dropped rather than blocking the audio
// thread.
func (e *Engine) frameFunc(s *liveSession, origin frameOrigin) audio.FrameFunc {
	return func(samples []int16) {
		select {
		case s.frames <- frame{origin: origin, samples: samples}:
		default:
		}
	}
}

// dispatchLoop is the single consumer of captured audio. In mixed mode it
// blends each incoming frame with the most recent frame from the other
// source, so neither stream ever stalls waiting for the other. Mixing a
// frame against an empty counterpart passes it through unchanged, which
// covers both a degraded mixed session and the window where only the first
// source is delivering.
func (e *Engine) dispatchLoop(s *liveSession) {
	defer close(s.dispatchDone)

	var lastMic, lastLoopback []int16

	for f := range s.frames {
		out := f.samples

		if s.mixed {
			switch f.origin {
			case originMic:
				lastMic = f.samples
				out = pcm.Mix(f.samples, lastLoopback)
			case originLoopback:
				lastLoopback = f.samples
				out = pcm.Mix(f.samples, lastMic)
			}
		}

		e.sendAudio(s, out)
	}
}

// sendAudio fans a frame out to every live provider stream. Send failures
// are logged and swallowed; the receive loop is responsible for surfacing a
// dead connection.
func (e *Engine) sendAudio(s *liveSession, samples []int16) {
	if len(samples) == 0 {
		return
	}

	if s.primary != nil {
		if err := s.primary.SendAudio(samples); err != nil {
			slog.Debug("failed to send audio to ASR client", slog.String("err", err.Error()))
		}
	}
	if s.secondary != nil {
		if err := s.secondary.SendAudio(samples); err != nil {
			slog.Debug("failed to send audio to translation stream", slog.String("err", err.Error()))
		}
	}
}

// consumeEvents drains one provider's event channel until it closes,
// publishing chunks and feeding the translation/hint routing.
func (e *Engine) consumeEvents(s *liveSession, client asr.Client, provider string) {
	defer s.consumersWg.Done()

	for ev := range client.Events() {
		switch ev.Kind {
		case asr.EventTranscript:
			if ev.Text == "" {
				continue
			}
			e.sink.PublishTranscript(asr.TranscriptChunk{
				ID:        uuid.NewString(),
				Text:      ev.Text,
				IsFinal:   ev.IsFinal,
				Provider:  provider,
				Timestamp: time.Now(),
			})
			e.routeTranscript(s, ev.Text, ev.IsFinal)
		case asr.EventTranslation:
			if ev.Text == "" {
				continue
			}
			e.sink.PublishTranslation(asr.TranslationChunk{
				ID:        uuid.NewString(),
				Text:      ev.Text,
				IsFinal:   ev.IsFinal,
				Provider:  provider + "_translation",
				Timestamp: time.Now(),
			})
		}
	}
}

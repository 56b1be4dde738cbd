// Package filetranscribe implements the HTTP file-upload transcription path:
// a single multipart-form endpoint gated by the same process-wide job
// tracker that guards the streaming path, plus a cancellation endpoint for
// long-running uploads. Grounded in internal/speaker.Handler's multipart/WAV
// handling, generalized to full-length batch transcription with optional
// diarization.
package filetranscribe

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-audio/wav"

	"streamspeech/config"
	"streamspeech/internal/audio"
	"streamspeech/internal/engine"
	"streamspeech/internal/jobtracker"
	"streamspeech/internal/logger"
	"streamspeech/internal/modelmanager"
	"streamspeech/internal/session"
)

// pollInterval is how often the request handler checks for a cooperative
// cancellation while a background decode is in flight.
const pollInterval = 200 * time.Millisecond

// Handler serves /api/transcribe/audio and /api/transcribe/cancel.
type Handler struct {
	cfg    *config.Config
	mm     *modelmanager.Manager
	jt     *jobtracker.Tracker
	tokens *session.TokenStore
}

// NewHandler builds a filetranscribe Handler with explicit dependencies.
func NewHandler(cfg *config.Config, mm *modelmanager.Manager, jt *jobtracker.Tracker, tokens *session.TokenStore) *Handler {
	return &Handler{cfg: cfg, mm: mm, jt: jt, tokens: tokens}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, if present.
func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// RegisterRoutes mounts this handler's endpoints on router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/transcribe")
	{
		group.POST("/audio", h.TranscribeAudio)
		group.POST("/cancel", h.CancelTranscription)
	}
}

// TranscribeAudio decodes an uploaded WAV file and transcribes it through
// the shared file engine. Only one such job (streaming or file) may run at
// a time process-wide; a concurrent request is rejected with the identity
// of whoever currently holds the slot.
func (h *Handler) TranscribeAudio(c *gin.Context) {
	ok, clientName, _ := session.Authenticate(h.cfg.Auth, h.tokens, bearerToken(c), c.Request.RemoteAddr)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "invalid or missing token"})
		return
	}
	if clientName == "" {
		clientName = c.ClientIP()
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		file, header, err = c.Request.FormFile("audio")
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	samples, sampleRate, err := h.decodeWAV(file, header)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("failed to parse audio file: %v", err)})
		return
	}

	language := c.PostForm("language")
	wordTimestamps := true
	if v := c.PostForm("word_timestamps"); v != "" {
		wordTimestamps, _ = strconv.ParseBool(v)
	}
	diarize, _ := strconv.ParseBool(c.PostForm("diarize"))

	admitted, jobID, activeUser := h.jt.TryStart(clientName)
	if !admitted {
		c.JSON(http.StatusConflict, gin.H{"detail": fmt.Sprintf("A transcription is already running for %s", activeUser)})
		return
	}

	type outcome struct {
		result engine.TranscriptionResult
		err    error
	}
	done := make(chan outcome, 1)

	// The engine observes cancellation through this context: the polling
	// loop below cancels it when JobTracker.Cancel has been requested, and
	// the engine returns at its next poll point.
	ctx, cancelCtx := context.WithCancel(c.Request.Context())
	defer cancelCtx()

	go func() {
		defer h.jt.End(jobID)

		fe, err := h.mm.FileEngine()
		if err != nil {
			done <- outcome{err: err}
			return
		}

		result, err := fe.Transcribe(ctx, samples, sampleRate)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		if language != "" {
			// Caller-supplied language overrides the engine's own
			// auto-detection rather than re-running decode.
			result.Language = language
			result.LanguageProbability = 1.0
		}
		if !wordTimestamps {
			result.Words = nil
			for i := range result.Segments {
				result.Segments[i].Words = nil
			}
		}

		if diarize && h.cfg.Diarization.Enabled {
			de, err := h.mm.DiarizationEngine()
			if err != nil {
				logger.Warn("diarization_unavailable", "error", err)
			} else if segs, err := de.Diarize(ctx, samples, sampleRate); err != nil {
				logger.Warn("diarization_failed", "error", err)
			} else {
				for _, seg := range segs {
					result.Segments = append(result.Segments, engine.Segment{
						Text:  result.Text,
						Start: seg.Start,
						End:   seg.End,
					})
				}
			}
		}

		done <- outcome{result: result}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case out := <-done:
			if out.err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": out.err.Error()})
				return
			}
			c.JSON(http.StatusOK, out.result)
			return
		case <-ticker.C:
			if h.jt.IsCancelled() {
				cancelCtx()
				c.JSON(499, gin.H{"detail": "transcription cancelled"})
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}

// CancelTranscription requests cooperative cancellation of whatever job is
// currently running, whether it originated from this endpoint or from a
// streaming session's explicit start.
func (h *Handler) CancelTranscription(c *gin.Context) {
	ok, activeUser := h.jt.Cancel()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": false, "cancelled_user": "", "message": "no active job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cancelled_user": activeUser, "message": fmt.Sprintf("cancellation requested for %s", activeUser)})
}

// decodeWAV decodes an uploaded WAV file and normalizes it to the engines'
// working format: mono, resampled to audio.sample_rate, float32 in [-1, 1].
func (h *Handler) decodeWAV(file multipart.File, header *multipart.FileHeader) ([]float32, int, error) {
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".wav") {
		return nil, 0, fmt.Errorf("only WAV files are supported")
	}

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("invalid WAV file")
	}

	sampleRate := int(decoder.SampleRate)
	numChannels := int(decoder.NumChans)
	if numChannels > 2 {
		return nil, 0, fmt.Errorf("unsupported number of channels: %d", numChannels)
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode audio: %w", err)
	}

	pcm := make([]int16, 0, len(buffer.Data))
	if numChannels == 2 {
		for i := 0; i+1 < len(buffer.Data); i += 2 {
			pcm = append(pcm, int16((buffer.Data[i]+buffer.Data[i+1])/2))
		}
	} else {
		for _, s := range buffer.Data {
			pcm = append(pcm, int16(s))
		}
	}

	frame := audio.Frame{Samples: pcm, SampleRate: sampleRate}
	working := h.cfg.Audio.SampleRate
	if sampleRate != working {
		frame = audio.Resample(frame, working)
	}

	return frame.ToFloat32(h.cfg.Audio.NormalizeFactor), working, nil
}

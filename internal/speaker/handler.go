package speaker

import (
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-audio/wav"

	"streamspeech/config"
	"streamspeech/internal/audio"
)

// Handler exposes the speaker registry over HTTP. All dependencies are
// explicitly injected via constructor.
type Handler struct {
	manager *Manager
	cfg     *config.Config
}

// NewHandler creates a new handler with explicit dependencies.
func NewHandler(manager *Manager, cfg *config.Config) *Handler {
	return &Handler{
		manager: manager,
		cfg:     cfg,
	}
}

// RegisterRoutes registers routes
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	speakerGroup := router.Group("/api/v1/speaker")
	{
		speakerGroup.POST("/register", h.RegisterSpeaker)
		speakerGroup.POST("/identify", h.IdentifySpeaker)
		speakerGroup.POST("/verify/:speaker_id", h.VerifySpeaker)
		speakerGroup.GET("/list", h.GetAllSpeakers)
		speakerGroup.DELETE("/:speaker_id", h.DeleteSpeaker)
		speakerGroup.GET("/stats", h.GetStats)
		speakerGroup.POST("/register_base64", h.RegisterSpeakerBase64)
		speakerGroup.POST("/identify_base64", h.IdentifySpeakerBase64)
	}
}

// RegisterSpeaker enrolls a speaker from an uploaded WAV sample.
func (h *Handler) RegisterSpeaker(c *gin.Context) {
	speakerID := c.PostForm("speaker_id")
	speakerName := c.PostForm("speaker_name")

	if speakerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "speaker_id is required",
		})
		return
	}

	if speakerName == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "speaker_name is required",
		})
		return
	}

	samples, sampleRate, ok := h.audioFromForm(c)
	if !ok {
		return
	}

	if err := h.manager.RegisterSpeaker(speakerID, speakerName, samples, sampleRate); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to register speaker: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Speaker registered successfully",
		"speaker_id":   speakerID,
		"speaker_name": speakerName,
	})
}

// IdentifySpeaker finds the closest registered speaker to an uploaded sample.
func (h *Handler) IdentifySpeaker(c *gin.Context) {
	samples, sampleRate, ok := h.audioFromForm(c)
	if !ok {
		return
	}

	result, err := h.manager.IdentifySpeaker(samples, sampleRate)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to identify speaker: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// VerifySpeaker checks an uploaded sample against one registered speaker.
func (h *Handler) VerifySpeaker(c *gin.Context) {
	speakerID := c.Param("speaker_id")
	if speakerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "speaker_id is required",
		})
		return
	}

	samples, sampleRate, ok := h.audioFromForm(c)
	if !ok {
		return
	}

	result, err := h.manager.VerifySpeaker(speakerID, samples, sampleRate)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to verify speaker: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetAllSpeakers returns all speakers
func (h *Handler) GetAllSpeakers(c *gin.Context) {
	speakers := h.manager.GetAllSpeakers()
	c.JSON(http.StatusOK, gin.H{
		"speakers": speakers,
		"total":    len(speakers),
	})
}

// DeleteSpeaker deletes a speaker
func (h *Handler) DeleteSpeaker(c *gin.Context) {
	speakerID := c.Param("speaker_id")
	if speakerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "speaker_id is required",
		})
		return
	}

	err := h.manager.DeleteSpeaker(speakerID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, gin.H{
				"error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to delete speaker: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Speaker deleted successfully",
		"speaker_id": speakerID,
	})
}

// GetStats returns registry statistics
func (h *Handler) GetStats(c *gin.Context) {
	stats := h.manager.GetDatabaseStats()
	c.JSON(http.StatusOK, stats)
}

// audioFromForm extracts and normalizes the "audio" multipart field. On
// failure it writes the error response itself and reports ok=false.
func (h *Handler) audioFromForm(c *gin.Context) (samples []float32, sampleRate int, ok bool) {
	file, header, err := c.Request.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "audio file is required",
		})
		return nil, 0, false
	}
	defer file.Close()

	samples, sampleRate, err = h.parseAudioFile(file, header)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("failed to parse audio file: %v", err),
		})
		return nil, 0, false
	}
	return samples, sampleRate, true
}

// parseAudioFile decodes a WAV upload to the engines' working format: mono,
// resampled to audio.sample_rate, float32 in [-1, 1] - the same
// normalization the transcription upload path applies, so fingerprints are
// comparable regardless of the sample's original rate.
func (h *Handler) parseAudioFile(file multipart.File, header *multipart.FileHeader) ([]float32, int, error) {
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
		return nil, 0, fmt.Errorf("failed to decode audio: %v", err)
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

	return h.normalize(pcm, sampleRate)
}

// normalize resamples mono int16 PCM to the working rate and converts it to
// normalized float32.
func (h *Handler) normalize(pcm []int16, sampleRate int) ([]float32, int, error) {
	if len(pcm) == 0 {
		return nil, 0, fmt.Errorf("empty audio sample")
	}
	frame := audio.Frame{Samples: pcm, SampleRate: sampleRate}
	working := h.cfg.Audio.SampleRate
	if sampleRate != working {
		frame = audio.Resample(frame, working)
	}
	return frame.ToFloat32(h.cfg.Audio.NormalizeFactor), working, nil
}

// RegisterSpeakerBase64 enrolls a speaker from base64-encoded raw PCM
// (little-endian int16 mono), for clients that can't build multipart forms.
func (h *Handler) RegisterSpeakerBase64(c *gin.Context) {
	var req struct {
		SpeakerID   string `json:"speaker_id" binding:"required"`
		SpeakerName string `json:"speaker_name" binding:"required"`
		AudioData   string `json:"audio_data" binding:"required"`
		SampleRate  int    `json:"sample_rate" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	samples, sampleRate, ok := h.audioFromBase64(c, req.AudioData, req.SampleRate)
	if !ok {
		return
	}

	if err := h.manager.RegisterSpeaker(req.SpeakerID, req.SpeakerName, samples, sampleRate); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to register speaker: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Speaker registered successfully",
		"speaker_id":   req.SpeakerID,
		"speaker_name": req.SpeakerName,
	})
}

// IdentifySpeakerBase64 identifies a speaker from base64-encoded raw PCM.
func (h *Handler) IdentifySpeakerBase64(c *gin.Context) {
	var req struct {
		AudioData  string `json:"audio_data" binding:"required"`
		SampleRate int    `json:"sample_rate" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	samples, sampleRate, ok := h.audioFromBase64(c, req.AudioData, req.SampleRate)
	if !ok {
		return
	}

	result, err := h.manager.IdentifySpeaker(samples, sampleRate)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("failed to identify speaker: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// audioFromBase64 decodes base64 little-endian int16 PCM and normalizes it
// like a file upload. On failure it writes the error response itself.
func (h *Handler) audioFromBase64(c *gin.Context, data string, sampleRate int) (samples []float32, rate int, ok bool) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("invalid base64 audio_data: %v", err),
		})
		return nil, 0, false
	}
	if sampleRate <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "sample_rate must be positive",
		})
		return nil, 0, false
	}

	frame := audio.FrameFromPCMBytes(raw, sampleRate)
	samples, rate, err = h.normalize(frame.Samples, sampleRate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return nil, 0, false
	}
	return samples, rate, true
}

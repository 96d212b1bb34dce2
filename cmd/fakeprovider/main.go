// Command fakeprovider serves an OpenAI-compatible images endpoint that
// renders a flat-colour JPEG per prompt. Point GENERATION_BASE_URL at
// http://localhost:9000/v1 to develop without a paid provider.
//
// Prompts containing [quota], [policy], [busy] or [slow] trigger the
// matching provider failure.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/HanTheDev/art-gateway/pkg/logger"
)

func main() {
	port := os.Getenv("FAKE_PROVIDER_PORT")
	if port == "" {
		port = "9000"
	}

	logger.Info().Str("port", port).Msg("fake image provider starting")
	if err := http.ListenAndServe(":"+port, newHandler(10*time.Second)); err != nil {
		logger.Fatal().Err(err).Msg("fake provider failed")
	}
}

type imageRequest struct {
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

func newHandler(slow time.Duration) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		var req imageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid_request_error", "Invalid JSON")
			return
		}

		logger.Info().Str("prompt", req.Prompt).Str("size", req.Size).Msg("image requested")

		switch {
		case strings.Contains(req.Prompt, "[quota]"):
			writeAPIError(w, http.StatusTooManyRequests, "insufficient_quota", "You exceeded your current quota")
			return
		case strings.Contains(req.Prompt, "[policy]"):
			writeAPIError(w, http.StatusBadRequest, "content_policy_violation", "Your request was rejected by the safety system")
			return
		case strings.Contains(req.Prompt, "[busy]"):
			w.Header().Set("Retry-After", "20")
			writeAPIError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limit reached for images")
			return
		case strings.Contains(req.Prompt, "[slow]"):
			select {
			case <-time.After(slow):
			case <-r.Context().Done():
				return
			}
		}

		data, err := render(req.Prompt)
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"created": time.Now().Unix(),
			"data": []map[string]string{
				{"b64_json": base64.StdEncoding.EncodeToString(data), "revised_prompt": req.Prompt},
			},
		})
	})
	return mux
}

// render paints a 256x256 JPEG whose colour is derived from the prompt.
func render(prompt string) ([]byte, error) {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	sum := h.Sum32()

	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	fill := color.RGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 255}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: fill}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	})
}

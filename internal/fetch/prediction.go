package fetch

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/afroash/krishii-mitra/internal/models"
)

// PredictionClient calls the crop recommendation and pest detection models
type PredictionClient struct {
	crop    *Client
	pest    *Client
	cropURL string
	pestURL string
	now     func() time.Time
	newID   func() string
}

// NewPredictionClient creates a model client
func NewPredictionClient(crop, pest *Client, cropURL, pestURL string) *PredictionClient {
	return &PredictionClient{
		crop:    crop,
		pest:    pest,
		cropURL: strings.TrimRight(cropURL, "/"),
		pestURL: strings.TrimRight(pestURL, "/"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

type cropResponse struct {
	PredictedCrop string `json:"predicted_crop"`
}

// FetchPrediction validates the inputs and asks the model for a crop.
// Out of range inputs never reach the network.
func (p *PredictionClient) FetchPrediction(ctx context.Context, inputs models.PredictionInputs) (*models.PredictionRecord, error) {
	if err := inputs.Validate(); err != nil {
		return nil, err
	}
	values := inputs.Values()

	var resp cropResponse
	if err := p.crop.do(ctx, "predict", jsonRequest(http.MethodPost, p.cropURL+"/predict", values), &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.PredictedCrop) == "" {
		return nil, &models.ParseError{Op: "predict", Err: fmt.Errorf("response has no predicted_crop")}
	}

	return models.NewPredictionRecord(p.newID(), values, resp.PredictedCrop, p.now()), nil
}

var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

// FetchPestDetection uploads a leaf image as multipart field "file"
func (p *PredictionClient) FetchPestDetection(ctx context.Context, filename string, image []byte) (*models.DetectionResult, error) {
	verr := &models.ValidationError{}
	if len(image) == 0 {
		verr.Add("file", "is required")
	}
	if !imageExtensions[strings.ToLower(filepath.Ext(filename))] {
		verr.Add("file", "must be a png, jpg, jpeg or gif image")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	build := func(ctx context.Context) (*http.Request, error) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", filepath.Base(filename))
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(image); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.pestURL+"/api/predict", &body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	var result models.DetectionResult
	if err := p.pest.do(ctx, "pest", build, &result); err != nil {
		return nil, err
	}
	if result.LeafName == "" && result.Status == "" {
		return nil, &models.ParseError{Op: "pest", Err: fmt.Errorf("response has no leaf_name or status")}
	}
	return &result, nil
}

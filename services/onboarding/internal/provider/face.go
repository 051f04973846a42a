package provider

import (
	"context"
	"time"
)

const (
	QualityGood = "good"
	QualityFair = "fair"
	QualityPoor = "poor"
)

type FaceFeatures struct {
	Eyes      string `json:"eyes"`
	Nose      string `json:"nose"`
	Mouth     string `json:"mouth"`
	FaceAngle string `json:"faceAngle"`
}

type FaceAnalysis struct {
	FaceDetected    bool         `json:"faceDetected"`
	FaceQuality     string       `json:"faceQuality"`
	Confidence      float64      `json:"confidence"`
	FaceFeatures    FaceFeatures `json:"faceFeatures"`
	Recommendations []string     `json:"recommendations"`
}

type FaceImage struct {
	MIMEType   string
	Data       []byte
	CapturedAt time.Time
}

type FaceAnalyzer interface {
	Analyze(ctx context.Context, img FaceImage) (FaceAnalysis, error)
}

// SimulatedFaceAnalyzer reports a fixed confidence after Latency. It stands
// in for a real detector and never looks at the pixels.
type SimulatedFaceAnalyzer struct {
	Latency    time.Duration
	Confidence float64
}

func (a SimulatedFaceAnalyzer) Analyze(ctx context.Context, _ FaceImage) (FaceAnalysis, error) {
	if err := Sleep(ctx, a.Latency); err != nil {
		return FaceAnalysis{}, err
	}
	return AnalysisForConfidence(a.Confidence), nil
}

// AnalysisForConfidence builds the analysis payload a detector with the
// given confidence would report.
func AnalysisForConfidence(confidence float64) FaceAnalysis {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	detected := "detected"
	if confidence < 0.5 {
		detected = "not_detected"
	}

	analysis := FaceAnalysis{
		FaceDetected: confidence >= 0.5,
		FaceQuality:  QualityLabel(confidence),
		Confidence:   confidence,
		FaceFeatures: FaceFeatures{
			Eyes:      detected,
			Nose:      detected,
			Mouth:     detected,
			FaceAngle: "frontal",
		},
	}

	switch analysis.FaceQuality {
	case QualityGood:
		analysis.Recommendations = []string{
			"Face is clearly visible",
			"Good lighting conditions",
			"Suitable for face recognition",
		}
	case QualityFair:
		analysis.Recommendations = []string{
			"Face is visible",
			"Improve lighting for better results",
		}
	default:
		analysis.FaceFeatures.FaceAngle = "unknown"
		analysis.Recommendations = []string{
			"Face not clearly visible",
			"Face the camera directly in good lighting",
		}
	}
	return analysis
}

func QualityLabel(confidence float64) string {
	switch {
	case confidence >= 0.85:
		return QualityGood
	case confidence >= 0.7:
		return QualityFair
	default:
		return QualityPoor
	}
}

package config

import (
	"os"
	"strings"

	"go.uber.org/zap"
)

// DefaultSystemInstruction is used when no instruction file can be read.
const DefaultSystemInstruction = "Anda ialah pembantu maya Penguatkuasa SSM Johor. " +
	"Berikan jawapan ringkas, jelas, profesional dan mesra."

// DefaultWelcomeText is the onboarding reply sent for welcome triggers.
const DefaultWelcomeText = "Selamat datang ke Pembantu Maya Bahagian Penguatkuasa SSM Johor.\n\n" +
	"Saya boleh bantu beri penerangan umum mengenai kompaun, pemeriksaan, pematuhan, " +
	"dan proses proses pembayaran kompaun.\n\n" +
	"Nota: Saya tidak mempunyai akses kepada sistem dalaman seperti e-Compound."

// DefaultWelcomeTriggers returns a fresh copy of the built-in trigger words.
func DefaultWelcomeTriggers() []string {
	return []string{
		"/start", "start", "mula", "hi", "hello",
		"assalamualaikum", "salam", "ssm", "penguatkuasa",
	}
}

// LoadSystemInstruction reads the system instruction once at startup.
// A missing, unreadable or blank file is not fatal: fallback is returned and
// the reason is logged.
func LoadSystemInstruction(path, fallback string, logger *zap.Logger) string {
	if path == "" {
		return fallback
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("system instruction file unavailable, using built-in default",
			zap.String("path", path),
			zap.Error(err),
		)
		return fallback
	}

	instruction := strings.TrimSpace(string(data))
	if instruction == "" {
		logger.Warn("system instruction file is empty, using built-in default",
			zap.String("path", path),
		)
		return fallback
	}

	logger.Info("loaded system instruction",
		zap.String("path", path),
		zap.Int("length", len(instruction)),
	)
	return instruction
}

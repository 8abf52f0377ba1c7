package config_test

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"scout.dev/scout/core/config"
)

var configEnvKeys = []string{
	"SCOUT_ENV",
	"SCOUT_AUDIT_PATH",
	"SCOUT_RAW_BRIEFS_DIR",
	"SCOUT_CONFIDENCE_THRESHOLD",
	"SCOUT_MAX_ATTEMPTS",
	"SCOUT_GATE_MODEL",
	"SCOUT_LLM_BASE_URL",
	"GROQ_API_KEY",
	"SCOUT_FSYNC_LINES",
	"SCOUT_FSYNC_INTERVAL_MS",
	"SCOUT_ROTATION_BYTES",
}

var _ = Describe("Load", func() {
	var saved map[string]string

	BeforeEach(func() {
		saved = map[string]string{}
		for _, k := range configEnvKeys {
			if v, ok := os.LookupEnv(k); ok {
				saved[k] = v
			}
			Expect(os.Unsetenv(k)).To(Succeed())
		}
	})

	AfterEach(func() {
		for _, k := range configEnvKeys {
			Expect(os.Unsetenv(k)).To(Succeed())
		}
		for k, v := range saved {
			Expect(os.Setenv(k, v)).To(Succeed())
		}
	})

	It("falls back to documented defaults when no env vars are set", func() {
		cfg := config.Load()
		Expect(cfg.Env).To(Equal("development"))
		Expect(cfg.ConfidenceThreshold).To(Equal(0.75))
		Expect(cfg.MaxAttempts).To(Equal(3))
		Expect(cfg.GateModel).To(Equal("llama-3.3-70b-versatile"))
		Expect(cfg.LLMBaseURL).To(Equal("https://api.groq.com/openai/v1"))
		Expect(cfg.LLMAPIKey).To(BeEmpty())
		Expect(cfg.FsyncEveryLines).To(Equal(10))
		Expect(cfg.FsyncInterval).To(Equal(1000 * time.Millisecond))
		Expect(cfg.RotationBytes).To(Equal(int64(10 * 1024 * 1024)))
	})

	It("reads every documented override from the environment", func() {
		os.Setenv("SCOUT_ENV", "production")
		os.Setenv("SCOUT_AUDIT_PATH", "/tmp/scout-test/audit.jsonl")
		os.Setenv("SCOUT_RAW_BRIEFS_DIR", "/tmp/scout-test/raw_briefs")
		os.Setenv("SCOUT_CONFIDENCE_THRESHOLD", "0.9")
		os.Setenv("SCOUT_MAX_ATTEMPTS", "5")
		os.Setenv("SCOUT_GATE_MODEL", "llama-3.1-8b-instant")
		os.Setenv("SCOUT_LLM_BASE_URL", "https://example.test/v1")
		os.Setenv("GROQ_API_KEY", "secret-key")
		os.Setenv("SCOUT_FSYNC_LINES", "20")
		os.Setenv("SCOUT_FSYNC_INTERVAL_MS", "500")
		os.Setenv("SCOUT_ROTATION_BYTES", "2048")

		cfg := config.Load()
		Expect(cfg.Env).To(Equal("production"))
		Expect(cfg.AuditPath).To(Equal("/tmp/scout-test/audit.jsonl"))
		Expect(cfg.RawBriefsDir).To(Equal("/tmp/scout-test/raw_briefs"))
		Expect(cfg.ConfidenceThreshold).To(Equal(0.9))
		Expect(cfg.MaxAttempts).To(Equal(5))
		Expect(cfg.GateModel).To(Equal("llama-3.1-8b-instant"))
		Expect(cfg.LLMBaseURL).To(Equal("https://example.test/v1"))
		Expect(cfg.LLMAPIKey).To(Equal("secret-key"))
		Expect(cfg.FsyncEveryLines).To(Equal(20))
		Expect(cfg.FsyncInterval).To(Equal(500 * time.Millisecond))
		Expect(cfg.RotationBytes).To(Equal(int64(2048)))
	})

	It("ignores an unparseable int or float override and falls back to the default", func() {
		os.Setenv("SCOUT_MAX_ATTEMPTS", "not-a-number")
		os.Setenv("SCOUT_CONFIDENCE_THRESHOLD", "not-a-float")

		cfg := config.Load()
		Expect(cfg.MaxAttempts).To(Equal(3))
		Expect(cfg.ConfidenceThreshold).To(Equal(0.75))
	})
})

var _ = Describe("IsProduction and IsDevelopment", func() {
	It("reports production only for the production env", func() {
		cfg := config.Config{Env: "production"}
		Expect(cfg.IsProduction()).To(BeTrue())
		Expect(cfg.IsDevelopment()).To(BeFalse())
	})

	It("reports development only for the development env", func() {
		cfg := config.Config{Env: "development"}
		Expect(cfg.IsDevelopment()).To(BeTrue())
		Expect(cfg.IsProduction()).To(BeFalse())
	})

	It("reports neither for an unrecognized env", func() {
		cfg := config.Config{Env: "staging"}
		Expect(cfg.IsProduction()).To(BeFalse())
		Expect(cfg.IsDevelopment()).To(BeFalse())
	})
})

package briefparser_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"scout.dev/scout/internal/briefparser"
)

var _ = Describe("Parser", func() {
	var p *briefparser.Parser

	BeforeEach(func() {
		p = briefparser.New()
	})

	It("rejects empty output", func() {
		_, err := p.Parse("   ")
		Expect(err).To(MatchError(briefparser.ErrEmpty))
	})

	It("rejects a hallucinated confidence score above 1.0", func() {
		_, err := p.Parse("confidence_score: 1.5\nEverything checks out.\n[GAP] none really")
		Expect(err).To(MatchError(briefparser.ErrHallucinated))
	})

	It("parses the structured format", func() {
		raw := "confidence_score: 0.85\nThe handler validates input before dispatch.\n" +
			"None identified — verified coverage of 3 symbols"
		result, err := p.Parse(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Confidence).To(BeNumerically("~", 0.85, 0.001))
		Expect(result.Analysis).To(ContainSubstring("validates input"))
		Expect(result.Suspicious).To(BeFalse())
		Expect(result.HasGapsDeclaration).To(BeTrue())
		Expect(result.Gaps).To(BeEmpty())
	})

	It("parses natural-language confidence phrasing", func() {
		raw := "I'm 84% confident based on the provided context.\nNone identified"
		result, err := p.Parse(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Confidence).To(BeNumerically("~", 0.84, 0.001))
	})

	It("parses a bare decimal with no label", func() {
		raw := "0.91 is my assessment.\nNone identified"
		result, err := p.Parse(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Confidence).To(BeNumerically("~", 0.91, 0.001))
	})

	It("ignores a decimal that is part of a larger number like a version string", func() {
		raw := "see v10.85 of the spec for details.\nNone identified"
		result, err := p.Parse(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Confidence).To(Equal(0.0))
	})

	It("extracts multiple gaps bounded by successive markers", func() {
		raw := "confidence_score: 0.60\nSome analysis.\n" +
			"[GAP] missing error handling in retry path\n" +
			"[GAP] no tests for the escalation branch"
		result, err := p.Parse(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Gaps).To(HaveLen(2))
		Expect(result.Gaps[0]).To(ContainSubstring("retry path"))
		Expect(result.Gaps[1]).To(ContainSubstring("escalation branch"))
		Expect(result.Suspicious).To(BeFalse())
	})

	It("flags output missing both a gap and a None identified declaration as suspicious", func() {
		raw := "confidence_score: 0.95\nLooks complete to me."
		result, err := p.Parse(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Suspicious).To(BeTrue())
		Expect(result.HasGapsDeclaration).To(BeFalse())
	})

	It("falls back to zero confidence when nothing parses, to force escalation", func() {
		result, err := p.Parse("I have thoughts about this codebase.")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Confidence).To(Equal(0.0))
		Expect(result.Suspicious).To(BeTrue())
	})

	It("clamps a confidence of exactly 1.0 without raising hallucinated error", func() {
		result, err := p.Parse("confidence_score: 1.00\nComplete.\nNone identified")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Confidence).To(Equal(1.0))
	})
})

var _ = Describe("BuildConfidencePrompt", func() {
	It("includes critical symbols extracted from the question and query symbols", func() {
		prompt := briefparser.BuildConfidencePrompt(
			"How does RetryBudget interact with the MAX_ATTEMPTS constant?",
			[]string{"internal/gate/gate.go::ValidateAndCompress"},
		)
		Expect(prompt).To(ContainSubstring("CRITICAL SYMBOLS FOR THIS QUERY"))
		Expect(prompt).To(ContainSubstring("RetryBudget"))
		Expect(prompt).To(ContainSubstring("MAX_ATTEMPTS"))
		Expect(prompt).To(ContainSubstring("ValidateAndCompress"))
	})

	It("omits the critical symbols block when nothing qualifies", func() {
		prompt := briefparser.BuildConfidencePrompt("what does this do", nil)
		Expect(prompt).NotTo(ContainSubstring("CRITICAL SYMBOLS"))
	})
})

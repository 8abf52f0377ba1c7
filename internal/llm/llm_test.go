package llm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"scout.dev/scout/core/config"
)

var _ = Describe("New", func() {
	It("rejects a config with no API key", func() {
		_, err := New(config.Config{})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("GROQ_API_KEY"))
	})

	It("accepts a config with an API key and an optional base URL override", func() {
		client, err := New(config.Config{LLMAPIKey: "test-key", LLMBaseURL: "https://api.groq.com/openai/v1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(client).NotTo(BeNil())
	})
})

var _ = Describe("priceCompletion", func() {
	It("prices an 8B completion at the 8B rate", func() {
		cost := priceCompletion(model8B, 1_000_000, 1_000_000)
		Expect(cost).To(BeNumerically("~", cost8BInput+cost8BOutput, 1e-9))
	})

	It("prices any other model at the 70B rate", func() {
		cost := priceCompletion("llama-3.3-70b-versatile", 1_000_000, 1_000_000)
		Expect(cost).To(BeNumerically("~", cost70BInput+cost70BOutput, 1e-9))
	})

	It("floors a zero-token completion at the epsilon cost", func() {
		cost := priceCompletion(model8B, 0, 0)
		Expect(cost).To(Equal(epsilonCost))
	})

	It("never reports a literal zero, even for a handful of tokens", func() {
		cost := priceCompletion(model8B, 1, 1)
		Expect(cost).To(BeNumerically(">", 0))
	})
})

var _ = Describe("estimateTokens", func() {
	It("estimates input and output tokens as twice the word count", func() {
		input, output := estimateTokens("one two three", "four five")
		Expect(input).To(Equal(6))
		Expect(output).To(Equal(4))
	})

	It("treats runs of whitespace as a single separator", func() {
		Expect(countWords("one   two\tthree\n\nfour")).To(Equal(4))
	})

	It("counts zero words for an empty or blank string", func() {
		Expect(countWords("")).To(Equal(0))
		Expect(countWords("   \n\t")).To(Equal(0))
	})

	It("counts a single word with no trailing separator", func() {
		Expect(countWords("solo")).To(Equal(1))
	})
})

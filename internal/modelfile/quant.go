package modelfile

import (
	"strings"

	"github.com/23skdu/longbow-scout/internal/gguf"
)

// quantPattern matches a lowercase filename substring to a variant.
// Entries marked dynamic additionally require the "ud-" marker so the
// Unsloth Dynamic builds take precedence over their base variants.
type quantPattern struct {
	match   string
	dynamic bool
	info    Quantization
}

// quantTable is checked in order; the most specific patterns come
// first, so "q4_k_m" cannot shadow "ud-...q4_k_xl" and "q4_k" variants
// are tried before "q4_0".
var quantTable = []quantPattern{
	{"iq1_s", true, Quantization{"UD-IQ1_S", "1-bit Unsloth Dynamic quantization (small), selective parameter quantization", 1}},
	{"iq1_m", true, Quantization{"UD-IQ1_M", "1-bit Unsloth Dynamic quantization (medium), selective parameter quantization", 2}},
	{"iq2_xxs", true, Quantization{"UD-IQ2_XXS", "2-bit Unsloth Dynamic quantization (extra extra small), selective parameter quantization", 3}},
	{"iq2_m", true, Quantization{"UD-IQ2_M", "2-bit Unsloth Dynamic quantization (medium), selective parameter quantization", 4}},
	{"iq3_xxs", true, Quantization{"UD-IQ3_XXS", "3-bit Unsloth Dynamic quantization (extra extra small), selective parameter quantization", 5}},
	{"q2_k_xl", true, Quantization{"UD-Q2_K_XL", "2-bit Unsloth Dynamic K-quantization (XL), selective parameter quantization", 6}},
	{"q3_k_xl", true, Quantization{"UD-Q3_K_XL", "3-bit Unsloth Dynamic K-quantization (XL), selective parameter quantization", 7}},
	{"q4_k_xl", true, Quantization{"UD-Q4_K_XL", "4-bit Unsloth Dynamic K-quantization (XL), selective parameter quantization", 8}},
	{"q5_k_xl", true, Quantization{"UD-Q5_K_XL", "5-bit Unsloth Dynamic K-quantization (XL), selective parameter quantization", 9}},
	{"q6_k_xl", true, Quantization{"UD-Q6_K_XL", "6-bit Unsloth Dynamic K-quantization (XL), selective parameter quantization", 10}},
	{"q8_k_xl", true, Quantization{"UD-Q8_K_XL", "8-bit Unsloth Dynamic K-quantization (XL), selective parameter quantization", 11}},
	{"q8_k_xl", false, Quantization{"Q8_K_XL", "8-bit K-quantization (XL), maximum quality", 12}},
	{"q6_k_xl", false, Quantization{"Q6_K_XL", "6-bit K-quantization (XL), very high quality", 13}},
	{"q5_k_xl", false, Quantization{"Q5_K_XL", "5-bit K-quantization (XL), high quality", 14}},
	{"q4_k_xl", false, Quantization{"Q4_K_XL", "4-bit K-quantization (XL), good quality", 15}},
	{"q3_k_xl", false, Quantization{"Q3_K_XL", "3-bit K-quantization (XL), compact with quality", 16}},
	{"q2_k_xl", false, Quantization{"Q2_K_XL", "2-bit K-quantization (XL), very compact", 17}},
	{"q8_0", false, Quantization{"Q8_0", "8-bit quantization, excellent quality", 18}},
	{"q6_k", false, Quantization{"Q6_K", "6-bit quantization, high quality with smaller size", 19}},
	{"q5_k_m", false, Quantization{"Q5_K_M", "5-bit quantization (medium), good quality/size balance", 20}},
	{"q5_k_s", false, Quantization{"Q5_K_S", "5-bit quantization (small), smaller size", 21}},
	{"q5_0", false, Quantization{"Q5_0", "5-bit quantization, legacy format", 22}},
	{"iq4_nl", false, Quantization{"IQ4_NL", "4-bit improved quantization (no lookup), very efficient", 23}},
	{"iq4_xs", false, Quantization{"IQ4_XS", "4-bit improved quantization (extra small), ultra compact", 24}},
	{"q4_k_m", false, Quantization{"Q4_K_M", "4-bit quantization (medium), good for most use cases", 25}},
	{"q4_k_l", false, Quantization{"Q4_K_L", "4-bit quantization (large), better quality at 4-bit", 26}},
	{"q4_k_s", false, Quantization{"Q4_K_S", "4-bit quantization (small), very compact", 27}},
	{"q4_1", false, Quantization{"Q4_1", "4-bit quantization v1, improved legacy format", 28}},
	{"q4_0", false, Quantization{"Q4_0", "4-bit quantization, legacy format", 29}},
	{"iq3_xxs", false, Quantization{"IQ3_XXS", "3-bit improved quantization (extra extra small), maximum compression", 30}},
	{"q3_k_l", false, Quantization{"Q3_K_L", "3-bit quantization (large), experimental", 31}},
	{"q3_k_m", false, Quantization{"Q3_K_M", "3-bit quantization (medium), very small size", 32}},
	{"q3_k_s", false, Quantization{"Q3_K_S", "3-bit quantization (small), ultra compact", 33}},
	{"iq2_xxs", false, Quantization{"IQ2_XXS", "2-bit improved quantization (extra extra small), extreme compression", 34}},
	{"iq2_m", false, Quantization{"IQ2_M", "2-bit improved quantization (medium), balanced compression", 35}},
	{"q2_k_l", false, Quantization{"Q2_K_L", "2-bit quantization (large), better quality at 2-bit", 36}},
	{"q2_k", false, Quantization{"Q2_K", "2-bit quantization, extremely small but lower quality", 37}},
	{"iq1_s", false, Quantization{"IQ1_S", "1-bit improved quantization (small), experimental ultra compression", 38}},
	{"iq1_m", false, Quantization{"IQ1_M", "1-bit improved quantization (medium), experimental compression", 39}},
	{"f16", false, Quantization{"F16", "16-bit floating point, highest quality but large size", 40}},
	{"f32", false, Quantization{"F32", "32-bit floating point, original precision", 41}},
}

// quantUnknown is returned when no pattern matches.
var quantUnknown = Quantization{"Unknown", "Unknown quantization type", 42}

// DetectQuantization identifies the quantization variant from a GGUF
// filename. Matching is case-insensitive substring search over the
// ordered pattern table.
func DetectQuantization(filename string) Quantization {
	lower := strings.ToLower(filename)
	ud := strings.Contains(lower, "ud-")
	for _, p := range quantTable {
		if p.dynamic && !ud {
			continue
		}
		if strings.Contains(lower, p.match) {
			return p.info
		}
	}
	return quantUnknown
}

// quantBits maps a variant to its effective bits per weight, used when
// a real file size is unavailable.
var quantBits = map[string]float64{
	"F32": 32.0, "F16": 16.0,
	"Q8_0": 8.5, "Q8_K_XL": 8.5, "Q6_K": 6.5, "Q6_K_XL": 6.5,
	"Q5_K_M": 5.5, "Q5_K_S": 5.1, "Q5_K_XL": 5.5, "Q5_0": 5.5,
	"Q4_K_M": 4.5, "Q4_K_L": 4.6, "Q4_K_S": 4.1, "Q4_K_XL": 4.5,
	"Q4_0": 4.5, "Q4_1": 4.5, "IQ4_NL": 4.2, "IQ4_XS": 4.0,
	"Q3_K_L": 3.4, "Q3_K_M": 3.3, "Q3_K_S": 3.2, "Q3_K_XL": 3.4,
	"IQ3_XXS": 3.1, "Q2_K": 2.6, "Q2_K_L": 2.8, "Q2_K_XL": 2.6,
	"IQ2_XXS": 2.1, "IQ2_M": 2.4, "IQ1_S": 1.6, "IQ1_M": 1.8,
	"UD-Q8_K_XL": 8.5, "UD-Q6_K_XL": 6.5, "UD-Q5_K_XL": 5.5,
	"UD-Q4_K_XL": 4.5, "UD-Q3_K_XL": 3.4, "UD-Q2_K_XL": 2.6,
	"UD-IQ3_XXS": 3.1, "UD-IQ2_XXS": 2.1, "UD-IQ2_M": 2.4,
	"UD-IQ1_S": 1.6, "UD-IQ1_M": 1.8,
}

// defaultBitsPerParam applies to variants missing from quantBits.
const defaultBitsPerParam = 16.0

// EstimateModelSizeMB approximates the on-disk size of a model from its
// architecture parameters and quantization, for when no HTTP size is
// available. The parameter count itself is a rough multiplier-based
// guess, so treat the result as an order-of-magnitude figure.
func EstimateModelSizeMB(params *gguf.ModelParams, quantType string) uint64 {
	totalParams := params.HiddenSize * uint64(params.HiddenLayers) * uint64(params.AttentionHeads) * 1000
	bits, ok := quantBits[quantType]
	if !ok {
		bits = defaultBitsPerParam
	}
	sizeBytes := uint64(float64(totalParams) * bits / 8.0)
	return sizeBytes / (1024 * 1024)
}

package budget

// Tokenizer counts the tokens a backend would see in a piece of text. Counts
// must be deterministic and monotonic: more text never yields fewer tokens.
type Tokenizer interface {
	Count(s string) int
}

// Estimator is a character-to-token heuristic tokenizer, approximately one
// token per four characters of English text, rounded up. It overestimates
// dense prose slightly and underestimates code, but both directions are
// stable and monotonic, which is what enforcement needs. The zero value is
// ready to use.
type Estimator struct{}

// Count implements Tokenizer.
func (Estimator) Count(s string) int {
	return (len(s) + 3) / 4
}

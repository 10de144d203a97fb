// Package gemini implements bulk.Producer on top of Google's Gemini API.
//
// One Producer serves one category. For each item it renders the category's
// prompt template, asks the model for a JSON review, validates the answer and
// stores the resulting domain.Review through a store.ReviewStore.
//
// Errors are shaped for the scheduler's retry policy: request failures are
// returned as-is (transient), malformed or blocked answers wrap
// bulk.ErrInvalidItem, and existing reviews wrap domain.ErrAlreadyExists.
package gemini

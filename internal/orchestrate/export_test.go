package orchestrate

// WithRunID exposes withRunID for black-box tests.
var WithRunID = withRunID

package pattern

// WithReadFile exposes withReadFile for black-box tests.
var WithReadFile = withReadFile

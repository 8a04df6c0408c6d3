// Package artifacts defines the output format vocabulary and the object-key
// convention shared with the external conversion worker.
//
// The key layout is a fixed contract, not configuration: the worker discovers
// input scripts and writes outputs by these exact shapes, so every key is
// built and parsed here and nowhere else.
package artifacts

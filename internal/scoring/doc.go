// Package scoring runs a pronunciation attempt through the pipeline:
// validate the request, optionally verify the learner, obtain a transcript
// from the configured speech-to-text provider, and score it against the
// expected text.
//
// [DecodeRequest] turns a JSON body into a typed [Request] or a
// [ValidationError] listing every violated constraint. [Service] performs
// one attempt and [Handler] maps its outcome onto the HTTP contract.
package scoring

// Package analysis implements the queue_analysis and gemini_processing
// stages.
//
// queue_analysis checks that every chunk is stored and hands the chunk list
// to gemini_processing, which asks an Analyzer which parts of each chunk to
// cut. Analyzer timestamps are chunk-relative strings; they are parsed with
// timeline.ParseTimestamp, offset by the chunk start, and saved per chunk so
// a retried attempt only re-analyses chunks that have no result yet.
package analysis

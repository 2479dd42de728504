// Package stats derives per-stream statistics from decoded frames.
//
// Every frame is summarised wholesale, with no incremental state: channel count,
// the ratio of nonzero ("valid") samples, a mean intensity, the frame shape, the
// producer-reported geometry and a size-consistency flag.
//
// The mean keeps the legacy definition: the sum of all samples, zeros included,
// divided by the count of nonzero samples. Frames without a single nonzero sample
// report a NaN mean and a zero valid ratio. Validity is always judged on the
// decoded samples, before any sanitization rewrites them.
//
// Streams may carry a sanitization Policy. The depth-aligned-to-color stream
// clips samples to 1500 and folds "no return" zeros into that same bound, so
// both far and unmeasurable points read as background in the stored frame.
package stats

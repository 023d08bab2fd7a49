// Package discovery scans source directories and manifests and pairs every image with
// the annotation that describes it.
//
// Three association strategies are provided:
//   - MatchStems pairs files that share a stem, e.g. JPEGImages/0001.jpg with
//     Annotations/0001.xml.
//   - MatchManifest pairs images with keys read from a JSON or CSV manifest.
//   - MOTSequences pairs the frames of each MOT sequence (<seq>/img1/000001.jpg) with the
//     sequence detection table (<seq>/det/det.txt).
//
// Every strategy reports unmatched files on both sides instead of failing, and returns
// pairs in lexically sorted order so that an unshuffled split is reproducible. A source
// root that does not exist is a setup error.
package discovery

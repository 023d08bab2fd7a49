// Package materialize writes a split corpus to disk in the YOLO dataset layout:
//
//	<root>/images/{train,val,test}/<name>
//	<root>/labels/{train,val,test}/<stem>.txt
//	<root>/dataset.yaml
//
// Every processed image gets a label file, empty when no box survived. A label is
// written only after its image has been placed, so a failed copy never leaves an
// orphan label behind. Rerunning over the same root overwrites files in place.
package materialize

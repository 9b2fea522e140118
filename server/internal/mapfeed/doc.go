// Package mapfeed serves the objects listed in a map file as JSON.
//
// The file is line-oriented, with a header line followed by one object per
// line:
//
//	id;type;latitude;longitude
//	1;3;57.7094;11.9488
//
// Lines are trimmed before splitting. A line with a field count other than
// four, or with a field that does not parse as a number, is skipped. The
// first line is always treated as the header.
//
// Feed keeps the parsed objects in a Store and answers GET requests with:
//
//	{"object":[{"id":1,"type":3,"latitude":57.7094,"longitude":11.9488}]}
//
// Feed.Watch reloads the file when it is written or replaced. When a reload
// fails, the previous objects stay in place.
package mapfeed

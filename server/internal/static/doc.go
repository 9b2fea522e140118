// Package static serves the browser UI from a directory on disk.
//
// "/" maps to "/index.html". Paths are resolved with http.Dir, so requests
// cannot escape the root. The content type follows the file extension:
//
//	.html         text/html
//	.css          text/css
//	.js           text/javascript
//	.json         application/json
//	.gif          image/gif
//	.png          image/png
//	.jpeg, .jpg   image/jpeg
//	anything else text/plain
//
// Missing files and directories yield 404 and a log line.
package static

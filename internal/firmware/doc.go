// Package firmware locates, describes and installs the application image the
// OTA server hands out.
//
// An ESP-IDF build directory holds several .bin files; only the application
// image is served. FindImage skips bootloader, partition table and OTA data
// images and picks the first remaining file in lexical order.
//
// The advertised version is resolved in this order:
//
//  1. an explicit version (configuration, flag, upload form or set-version)
//  2. PROJECT_VER from CMakeLists.txt next to the build directory
//  3. "0.0.0"
//
// A Catalog holds the current image and version and is safe for concurrent
// use. Watch keeps it in sync with the firmware directory using fsnotify.
package firmware

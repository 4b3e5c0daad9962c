package pathhelper

import (
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultVideoExt 无法从原始文件名得到扩展名时使用
const DefaultVideoExt = ".mp4"

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

var videoMimeTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
}

// SafeExt 从客户端提供的文件名中取出扩展名，不合法时回退为 .mp4
func SafeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(ConvertToLinuxPath(filename)))
	if !extPattern.MatchString(ext) {
		return DefaultVideoExt
	}
	return ext
}

// RoleFileName 生成 {jobID}_{role}{ext} 形式的文件名
func RoleFileName(jobID, role, ext string) string {
	if ext == "" {
		ext = DefaultVideoExt
	}
	return jobID + "_" + role + ext
}

// VideoMimeType 按扩展名返回视频 MIME 类型，未知扩展名视为 mp4
func VideoMimeType(path string) string {
	if mime, ok := videoMimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mime
	}
	return "video/mp4"
}

// ResolveInDir 将文件名拼接到目录下，拒绝任何越出目录的名称
func ResolveInDir(dir, name string) (string, bool) {
	name = ConvertToLinuxPath(name)
	if name == "" || strings.Contains(name, "/") || name == "." || name == ".." {
		return "", false
	}
	full := filepath.Join(dir, name)
	if !IsSubPath(filepath.ToSlash(full), strings.TrimSuffix(filepath.ToSlash(filepath.Clean(dir)), "/")+"/") {
		return "", false
	}
	return full, true
}

// ConvertToLinuxPath 将所有的反斜杠转换成正斜杠
func ConvertToLinuxPath(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}

// IsSubPath 检查 path 是否是 prefix 的子路径
func IsSubPath(path, prefix string) bool {
	// 确保路径以 / 结尾，避免部分匹配问题
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}

	return strings.HasPrefix(path, prefix)
}

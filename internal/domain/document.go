package domain

// RawDocument 是一次抽取的输入文本（已解码为 UTF-8）。
//
// 不变量：加载后不可变；ID 通常是相对扫描根目录的路径。
type RawDocument struct {
	ID   string
	Text string
	Size int64 // 原始字节数（解码/清洗前）
}

// SourceFile 描述一次扫描得到的候选文件（只做 stat，不读内容）。
//
// 不变量：AbsPath 为 clean + absolute；RelPath 为相对扫描根目录的 slash 路径。
type SourceFile struct {
	AbsPath string
	RelPath string
	Size    int64
}

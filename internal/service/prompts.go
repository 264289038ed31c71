package service

import (
	"fmt"

	"github.com/medical-examination-assistant/internal/domain"
)

// medicalFixerPrompt is the system prompt of the speech-to-text correction step
const medicalFixerPrompt = `Bạn là chuyên gia hiệu chỉnh văn bản y khoa tiếng Việt.
Nhiệm vụ: Sửa lỗi chính tả, ngữ pháp và thuật ngữ y tế từ đoạn văn thô được chuyển từ giọng nói.
Quy tắc:
1. Giữ nguyên ý nghĩa gốc của người nói
2. Sửa các lỗi phát âm thường gặp trong y khoa:
   - "đau thượng vịt" → "đau thượng vị"
   - "phải sụp" → "sốt"
   - "ăn chích" → "ăn kiêng"
3. Chuẩn hóa thuật ngữ y tế
4. Trả về đoạn văn đã sửa, KHÔNG thêm lời dẫn hay giải thích`

func scribePrompt(transcript string) string {
	return fmt.Sprintf(`Bạn là thư ký y khoa chuyên nghiệp.
Nhiệm vụ: Chuyển transcript hội thoại thành bệnh án chuẩn SOAP tiếng Việt.

Transcript:
%q

Yêu cầu output JSON format:
{
    "subjective": "Tóm tắt triệu chứng cơ năng, bệnh sử...",
    "objective": "Tóm tắt triệu chứng thực thể, dấu hiệu sinh tồn (nếu có)...",
    "assessment": "Chẩn đoán sơ bộ...",
    "plan": "Kế hoạch điều trị, thuốc, dặn dò..."
}
Chỉ trả về JSON hợp lệ, không có text khác.`, transcript)
}

func icdPrompt(assessment, subjective string) string {
	return fmt.Sprintf(`Bạn là chuyên gia về mã hóa bệnh lý ICD-10.
Chẩn đoán: %q
Triệu chứng: %q

Nhiệm vụ: Tìm mã ICD-10 phù hợp nhất (ưu tiên mã chi tiết).
Trả về JSON dạng {"codes": ["K29.7 - Viêm dạ dày", "R10.1 - Đau vùng thượng vị"]}`, assessment, subjective)
}

func expertPrompt(context string, soap domain.SOAPNote) string {
	return fmt.Sprintf(`Bạn là chuyên gia y tế cố vấn.
Dựa vào Y VĂN ĐƯỢC CUNG CẤP dưới đây, hãy đưa ra nhận xét và gợi ý điều trị.

Y VĂN (Context):
%s

BỆNH ÁN (SOAP):
S: %s
O: %s
A: %s

YÊU CẦU:
- Đưa ra lời khuyên ngắn gọn cho bác sĩ.
- Cảnh báo nếu phác đồ hiện tại (Plan) có gì sai sót so với Y VĂN.
- Gợi ý xét nghiệm cần làm thêm.
- TRÍCH DẪN từ y văn (nếu có).`, context, soap.Subjective, soap.Objective, soap.Assessment)
}
